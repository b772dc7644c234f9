package wallet

import "time"

// Config holds the sync policy. Zero fields take the DefaultConfig value.
type Config struct {
	// PageSize is the size of the live head page and of every LoadMore page.
	PageSize int
	// MaxRetries is how many failed replays a pending item survives.
	MaxRetries int
	// MaxCachedTransactions bounds the persisted transaction list.
	MaxCachedTransactions int
	// MaxLoadedTransactions bounds the in-memory list, LoadMore pages
	// included. Never below MaxCachedTransactions.
	MaxLoadedTransactions int
	// CommitTimeout bounds one remote commit attempt.
	CommitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PageSize:              20,
		MaxRetries:            3,
		MaxCachedTransactions: 100,
		MaxLoadedTransactions: 500,
		CommitTimeout:         10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.MaxCachedTransactions <= 0 {
		c.MaxCachedTransactions = def.MaxCachedTransactions
	}
	if c.MaxLoadedTransactions <= 0 {
		c.MaxLoadedTransactions = def.MaxLoadedTransactions
	}
	if c.MaxLoadedTransactions < c.MaxCachedTransactions {
		c.MaxLoadedTransactions = c.MaxCachedTransactions
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = def.CommitTimeout
	}

	return c
}
