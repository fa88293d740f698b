package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/elidria/stock-reserve/internal/core/domain"
	"github.com/elidria/stock-reserve/internal/port"
)

const auditWriteTimeout = 5 * time.Second

// AuditLogger appends operation trail rows from a background goroutine.
// Record never blocks and never fails the calling operation; store write
// failures are routed to the error channel and the log.
type AuditLogger struct {
	store   port.StoreRepository
	entries chan domain.AuditEntry
	errs    chan error
	done    chan struct{}
	log     *zap.Logger
}

func NewAuditLogger(store port.StoreRepository, buffer int, log *zap.Logger) *AuditLogger {
	a := &AuditLogger{
		store:   store,
		entries: make(chan domain.AuditEntry, buffer),
		errs:    make(chan error, buffer),
		done:    make(chan struct{}),
		log:     log,
	}
	go a.run()
	return a
}

// Record enqueues one audit entry. When the buffer is full the entry is
// dropped with a warning; the trail is best-effort by contract.
func (a *AuditLogger) Record(operation string, resourceID int64, quantity int, ownerID int64, sessionID, status, message string) {
	e := domain.AuditEntry{
		Operation:  operation,
		ResourceID: resourceID,
		Quantity:   quantity,
		OwnerID:    ownerID,
		SessionID:  sessionID,
		Status:     status,
		Message:    message,
		CreatedAt:  time.Now(),
	}

	select {
	case a.entries <- e:
	default:
		a.log.Warn("audit buffer full, entry dropped", zap.String("operation", operation))
	}
}

// Errors exposes append failures for observability.
func (a *AuditLogger) Errors() <-chan error {
	return a.errs
}

// Close stops accepting entries and waits for the queue to drain.
func (a *AuditLogger) Close() {
	close(a.entries)
	<-a.done
}

func (a *AuditLogger) run() {
	defer close(a.done)

	for e := range a.entries {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		err := a.store.AppendAudit(ctx, e)
		cancel()

		if err != nil {
			a.log.Warn("audit append failed",
				zap.String("operation", e.Operation), zap.Error(err))
			select {
			case a.errs <- err:
			default:
			}
		}
	}
}
