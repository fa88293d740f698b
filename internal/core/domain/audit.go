package domain

import "time"

const (
	AuditSuccess = "success"
	AuditWarning = "warning"
	AuditError   = "error"
	AuditInfo    = "info"
)

// AuditEntry is one row of the append-only operation trail. Writes are
// best-effort; a failed append never affects the operation it describes.
type AuditEntry struct {
	Operation  string
	ResourceID int64
	Quantity   int
	OwnerID    int64
	SessionID  string
	Status     string
	Message    string
	CreatedAt  time.Time
}
