package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/elidria/stock-reserve/internal/core/domain"
	"github.com/elidria/stock-reserve/internal/core/service"
)

type HTTPHandler struct {
	reservations *service.ReservationService
}

type ReserveRequest struct {
	ResourceID int64  `json:"resource_id"`
	Quantity   int    `json:"quantity"`
	OwnerID    int64  `json:"owner_id"`
	SessionID  string `json:"session_id"`
}

type ReserveResponse struct {
	Success           bool   `json:"success"`
	ReservationID     int64  `json:"reservation_id,omitempty"`
	ExpiresAt         string `json:"expires_at,omitempty"`
	AvailableQuantity *int   `json:"available_quantity,omitempty"`
	Message           string `json:"message,omitempty"`
}

type ConfirmRequest struct {
	ReservationID int64 `json:"reservation_id"`
	OrderID       int64 `json:"order_id"`
}

type CancelRequest struct {
	ReservationID int64 `json:"reservation_id"`
}

type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type ReservationView struct {
	ReservationID int64  `json:"reservation_id"`
	ResourceID    int64  `json:"resource_id"`
	Quantity      int    `json:"quantity"`
	State         string `json:"state"`
	ExpiresAt     string `json:"expires_at"`
}

func NewHTTPHandler(reservations *service.ReservationService) *HTTPHandler {
	return &HTTPHandler{reservations: reservations}
}

func (h *HTTPHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ReserveResponse{Success: false, Message: "invalid request body"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, ReserveResponse{Success: false, Message: "missing session_id"})
		return
	}

	result, err := h.reservations.Reserve(r.Context(), req.ResourceID, req.Quantity, req.OwnerID, req.SessionID)
	if err != nil {
		var insufficient *domain.InsufficientStockError
		var invalid *domain.ValidationError

		switch {
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusConflict, ReserveResponse{
				Success:           false,
				AvailableQuantity: &insufficient.Available,
				Message:           insufficient.Error(),
			})
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusBadRequest, ReserveResponse{Success: false, Message: invalid.Error()})
		case errors.Is(err, domain.ErrResourceUnavailable):
			writeJSON(w, http.StatusGone, ReserveResponse{Success: false, Message: "resource unavailable"})
		case errors.Is(err, domain.ErrLockUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, ReserveResponse{Success: false, Message: "busy, retry shortly"})
		default:
			writeJSON(w, http.StatusInternalServerError, ReserveResponse{Success: false, Message: "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, ReserveResponse{
		Success:       true,
		ReservationID: result.ReservationID,
		ExpiresAt:     result.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *HTTPHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, StatusResponse{Success: false, Message: "invalid request body"})
		return
	}

	if err := h.reservations.Confirm(r.Context(), req.ReservationID, req.OrderID); err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Success: true, Message: "reservation confirmed"})
}

func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, StatusResponse{Success: false, Message: "invalid request body"})
		return
	}

	if err := h.reservations.Cancel(r.Context(), req.ReservationID); err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Success: true, Message: "reservation canceled"})
}

func (h *HTTPHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deleted, err := h.reservations.CleanupExpired(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrSweepBusy) {
			writeJSON(w, http.StatusConflict, StatusResponse{Success: false, Message: "cleanup already running"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, StatusResponse{Success: false, Message: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Success: true,
		Message: "deleted " + strconv.FormatInt(deleted, 10) + " expired reservations",
	})
}

func (h *HTTPHandler) SessionReservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	rs, err := h.reservations.SessionReservations(r.Context(), sessionID)
	if err != nil {
		var invalid *domain.ValidationError
		if errors.As(err, &invalid) {
			writeJSON(w, http.StatusBadRequest, StatusResponse{Success: false, Message: invalid.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, StatusResponse{Success: false, Message: "internal error"})
		return
	}

	views := make([]ReservationView, 0, len(rs))
	now := time.Now()
	for _, res := range rs {
		views = append(views, ReservationView{
			ReservationID: res.ID,
			ResourceID:    res.ResourceID,
			Quantity:      res.Quantity,
			State:         string(res.State(now)),
			ExpiresAt:     res.ExpiresAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *HTTPHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resourceID, err := strconv.ParseInt(r.URL.Query().Get("resource_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, StatusResponse{Success: false, Message: "invalid resource_id"})
		return
	}

	available, err := h.reservations.Availability(r.Context(), resourceID)
	if err != nil {
		var invalid *domain.ValidationError
		switch {
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusBadRequest, StatusResponse{Success: false, Message: invalid.Error()})
		case errors.Is(err, domain.ErrResourceUnavailable):
			writeJSON(w, http.StatusGone, StatusResponse{Success: false, Message: "resource unavailable"})
		default:
			writeJSON(w, http.StatusInternalServerError, StatusResponse{Success: false, Message: "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"available_quantity": available})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeStatusError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, StatusResponse{Success: false, Message: "reservation not found"})
	case errors.Is(err, domain.ErrLockUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Success: false, Message: "busy, retry shortly"})
	default:
		writeJSON(w, http.StatusInternalServerError, StatusResponse{Success: false, Message: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
