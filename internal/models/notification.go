package models

import "time"

// PaymentNotification is a payment-due reminder pushed outside any
// conversation. At most one undismissed notification is kept client-side.
type PaymentNotification struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Month     int       `json:"month"`
	Year      int       `json:"year"`
	CreatedAt time.Time `json:"created_at"`
}

// Key is the de-duplication identity: server id (possibly empty) plus the
// creation timestamp. A re-send with a new timestamp counts as a new
// occurrence.
func (n *PaymentNotification) Key() string {
	return n.ID + "-" + n.CreatedAt.UTC().Format(time.RFC3339Nano)
}
