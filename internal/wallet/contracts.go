package wallet

import "context"

// LocalStore is the durable per-user cache. Load returns a zero snapshot for
// unknown users and for data that can't be decoded; errors mean the store
// itself is unavailable.
type LocalStore interface {
	Load(ctx context.Context, userID string) (LocalSnapshot, error)
	// Save writes the non-nil fields of p. Each field is written whole.
	Save(ctx context.Context, userID string, p Patch) error
	EnqueuePending(ctx context.Context, userID string, item PendingSyncItem) error
	DequeuePending(ctx context.Context, userID, itemID string) error
	Clear(ctx context.Context, userID string) error
}

// CommitResult is the remote outcome of a commit or append.
type CommitResult struct {
	Balance     int64
	Transaction Transaction
}

// Page is a slice of the remote log, newest first. NextCursor names the
// oldest entry of the page.
type Page struct {
	Transactions []Transaction
	NextCursor   string
	HasMore      bool
}

// RemoteSnapshot is the authoritative balance with the newest page.
type RemoteSnapshot struct {
	Balance int64
	Page
}

// SnapshotEvent is one delivery of a Subscription. Err ends the stream.
type SnapshotEvent struct {
	Snapshot RemoteSnapshot
	Err      error
}

// Subscription streams full snapshots until closed. The events channel is
// closed when the stream ends.
type Subscription interface {
	Events() <-chan SnapshotEvent
	Close() error
}

// RemoteLedger is the authoritative store. key is the idempotency key of the
// write; replays of an applied key fail with ErrAlreadyCommitted.
type RemoteLedger interface {
	Commit(ctx context.Context, userID, key string, m Mutation) (CommitResult, error)
	Append(ctx context.Context, userID, key string, m Mutation) (CommitResult, error)
	Page(ctx context.Context, userID string, limit int, before string) (Page, error)
	Snapshot(ctx context.Context, userID string, limit int) (RemoteSnapshot, error)
	Subscribe(ctx context.Context, userID string, limit int) (Subscription, error)
}

// Connectivity reports the online state. Listeners run on transitions only.
type Connectivity interface {
	IsOnline() bool
	OnChange(fn func(online bool)) (unsubscribe func())
}

// Identity supplies the current user. An empty user id means signed out.
type Identity interface {
	UserID() (string, bool)
	OnChange(fn func(userID string)) (unsubscribe func())
}
