package wallet

import (
	"context"
	"log/slog"
	"sync"
)

type ReconcilerState int

const (
	StateUnsubscribed ReconcilerState = iota
	StateSubscribed
	StateReceiving
)

func (s ReconcilerState) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	default:
		return "unsubscribed"
	}
}

// ApplyFunc receives every snapshot delivered for userID.
type ApplyFunc func(userID string, snap RemoteSnapshot)

// Reconciler keeps one remote subscription open while a user is present and
// the device is online. A failed subscription is not retried until the next
// Update with a changed user or connectivity.
type Reconciler struct {
	remote   RemoteLedger
	pageSize int
	apply    ApplyFunc
	logger   *slog.Logger

	mu     sync.Mutex
	state  ReconcilerState
	userID string
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func NewReconciler(remote RemoteLedger, pageSize int, apply ApplyFunc, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		remote:   remote,
		pageSize: pageSize,
		apply:    apply,
		logger:   logger,
	}
}

func (r *Reconciler) State() ReconcilerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Update moves the state machine for the given user presence and
// connectivity. Entering the subscribed state always starts a fresh
// subscription, which delivers a full snapshot first.
func (r *Reconciler) Update(ctx context.Context, userID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if userID == "" || !online {
		r.stopLocked()
		return
	}

	if r.state != StateUnsubscribed && r.userID == userID {
		return
	}

	r.stopLocked()

	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.gen++
	r.state = StateSubscribed
	r.userID = userID
	r.cancel = cancel
	r.done = done

	go r.run(sctx, r.gen, userID, done)
}

// Stop closes the subscription and waits for its goroutine to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	done := r.done
	r.stopLocked()
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (r *Reconciler) stopLocked() {
	if r.cancel != nil {
		r.cancel()
	}

	r.gen++
	r.state = StateUnsubscribed
	r.userID = ""
	r.cancel = nil
	r.done = nil
}

func (r *Reconciler) run(ctx context.Context, gen uint64, userID string, done chan struct{}) {
	defer close(done)

	logger := r.logger.With("user_id", userID)

	sub, err := r.remote.Subscribe(ctx, userID, r.pageSize)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("subscription failed, serving cached state", "error", err)
		}
		r.fail(gen)

		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if ctx.Err() == nil {
					logger.Warn("subscription ended, serving cached state")
				}
				r.fail(gen)

				return
			}

			if ev.Err != nil {
				if ctx.Err() == nil {
					logger.Warn("subscription failed, serving cached state", "error", ev.Err)
				}
				r.fail(gen)

				return
			}

			if !r.receiving(gen) {
				return
			}

			r.apply(userID, ev.Snapshot)
		}
	}
}

// receiving marks the run as receiving; false means the run was superseded.
func (r *Reconciler) receiving(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen != gen {
		return false
	}

	r.state = StateReceiving

	return true
}

func (r *Reconciler) fail(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen != gen {
		return
	}

	if r.cancel != nil {
		r.cancel()
	}

	r.state = StateUnsubscribed
	r.userID = ""
	r.cancel = nil
	r.done = nil
}
