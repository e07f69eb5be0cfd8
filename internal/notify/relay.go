// Package notify receives payment-due broadcasts, keeps the latest one
// durable across reloads and guards against duplicate delivery.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
)

// Relay holds at most one undismissed notification. A given logical
// notification, identified by (server id, created-at), is surfaced once per
// arrival no matter how often the event is redelivered.
type Relay struct {
	store Store
	log   *zap.SugaredLogger

	mu       sync.Mutex
	current  *models.PaymentNotification
	lastKey  string
	onArrive func(*models.PaymentNotification)
}

func NewRelay(store Store, log *zap.SugaredLogger) *Relay {
	return &Relay{store: store, log: log}
}

// OnArrive registers the just-arrived side effect (toast). It does not fire
// for notifications restored from the store.
func (r *Relay) OnArrive(fn func(*models.PaymentNotification)) {
	r.mu.Lock()
	r.onArrive = fn
	r.mu.Unlock()
}

// Restore loads a previously stored notification into memory so a reload
// does not lose an unacknowledged reminder. The restored notification also
// seeds the replay guard, so redelivery of the same occurrence after a
// restart stays silent.
func (r *Relay) Restore() error {
	n, err := r.store.Load()
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}
	r.mu.Lock()
	r.current = n
	r.lastKey = n.Key()
	r.mu.Unlock()
	return nil
}

// Handle processes one payment_notification event.
func (r *Relay) Handle(n *models.PaymentNotification) {
	key := n.Key()
	r.mu.Lock()
	if key == r.lastKey {
		r.mu.Unlock()
		r.log.Debugw("duplicate payment notification ignored", "key", key)
		return
	}
	// Persist under the lock so the stored record can never trail a newer
	// in-memory notification when arrivals race.
	if err := r.store.Save(n); err != nil {
		// The in-memory copy still drives the banner; only reload
		// persistence is degraded.
		r.log.Warnw("persist payment notification", "err", err)
	}
	r.current = n
	r.lastKey = key
	fn := r.onArrive
	r.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}

// Current returns the undismissed notification, nil when there is none.
func (r *Relay) Current() *models.PaymentNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Resolve clears the notification from memory and the store once the user
// completes the payment action. Purely local; if the backend re-sends the
// same logical notification with a fresh timestamp it counts as a new
// occurrence.
func (r *Relay) Resolve() error {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
	return r.store.Clear()
}
