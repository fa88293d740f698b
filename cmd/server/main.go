package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/elidria/stock-reserve/internal/adapter/handler"
	"github.com/elidria/stock-reserve/internal/adapter/storage"
	"github.com/elidria/stock-reserve/internal/config"
	"github.com/elidria/stock-reserve/internal/core/service"
	"github.com/elidria/stock-reserve/pkg/logger"
)

const auditBufferSize = 1000

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL is the sole synchronization point; refuse to start without it.
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping mysql", zap.Error(err))
	}
	log.Info("connected to mysql")

	if err := storage.EnsureSchema(ctx, db); err != nil {
		log.Fatal("failed to ensure schema", zap.Error(err))
	}

	// Redis only serves availability hints; start without it if unreachable.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	var cacheAdapter *storage.RedisAdapter
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, availability hints disabled", zap.Error(err))
	} else {
		cacheAdapter = storage.NewRedisAdapter(rdb)
		log.Info("connected to redis")
	}

	store := storage.NewMySQLAdapter(db)

	audit := service.NewAuditLogger(store, auditBufferSize, log)
	go func() {
		for err := range audit.Errors() {
			log.Warn("audit write error", zap.Error(err))
		}
	}()

	locks := service.NewLockManager(store, audit, cfg.LockTTL, log)

	var reservationService *service.ReservationService
	if cacheAdapter != nil {
		reservationService = service.NewReservationService(store, cacheAdapter, locks, audit, log)
	} else {
		reservationService = service.NewReservationService(store, nil, locks, audit, log)
	}

	sweeper := service.NewSweeper(reservationService, cfg.SweepInterval, log)
	go sweeper.Run(ctx)
	log.Info("cleanup sweeper started", zap.Duration("interval", cfg.SweepInterval))

	httpHandler := handler.NewHTTPHandler(reservationService)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)
	mux.HandleFunc("/api/reserve", httpHandler.Reserve)
	mux.HandleFunc("/api/confirm", httpHandler.Confirm)
	mux.HandleFunc("/api/cancel", httpHandler.Cancel)
	mux.HandleFunc("/api/cleanup", httpHandler.Cleanup)
	mux.HandleFunc("/api/reservations", httpHandler.SessionReservations)
	mux.HandleFunc("/api/availability", httpHandler.Availability)

	httpServer := &http.Server{
		Addr:    cfg.HTTPPort,
		Handler: mux,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	cancel()
	audit.Close()

	rdb.Close()
	db.Close()
	log.Info("shutdown complete")
}
