package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fastprodman/pointsync/internal/connectivity"
	"github.com/fastprodman/pointsync/internal/infra/logging"
	"github.com/fastprodman/pointsync/internal/localstore/sqlite"
	"github.com/fastprodman/pointsync/internal/remote"
	"github.com/fastprodman/pointsync/internal/wallet"
	"github.com/fastprodman/pointsync/pkg/shutdownqueue"
)

const (
	storeFile   = "wallet.db"
	idlePoll    = 20 * time.Millisecond
	closeBudget = 5 * time.Second
)

// session wires the sync engine to its collaborators for one command run.
type session struct {
	cfg     Config
	engine  *wallet.Engine
	monitor *connectivity.Monitor
	logger  *slog.Logger
	queue   *shutdownqueue.Queue
}

// openSession builds the engine stack. Cleanup is registered on a LIFO queue
// released by close.
func openSession(ctx context.Context, cfg Config, stderr io.Writer) (_ *session, retErr error) {
	q := shutdownqueue.New()

	defer func() {
		if retErr != nil {
			_ = q.Shutdown(context.Background())
		}
	}()

	level, err := cfg.level()
	if err != nil {
		return nil, err
	}

	var logOut io.Writer = stderr
	if cfg.LogFile != "" {
		err = os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755)
		if err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}

		lj := logging.RotatingFile(cfg.LogFile)
		q.AddCloser("log file", lj.Close)
		logOut = lj
	}

	logger := logging.New(level, logOut)

	store, err := sqlite.Open(filepath.Join(cfg.DataDir, storeFile), logger)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	q.AddCloser("local store", store.Close)

	client, err := remote.New(cfg.RemoteURL,
		remote.WithRequestTimeout(cfg.requestTimeout()),
		remote.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("remote client: %w", err)
	}

	monitor := connectivity.NewMonitor(false)
	prober := connectivity.NewProber(cfg.RemoteURL, cfg.ProbeInterval, monitor, logger)
	prober.Check(ctx)

	probeCtx, stopProbe := context.WithCancel(context.Background())
	probeDone := make(chan struct{})

	go func() {
		defer close(probeDone)
		prober.Run(probeCtx)
	}()

	q.Add(func(c context.Context) error {
		stopProbe()

		select {
		case <-probeDone:
			return nil
		case <-c.Done():
			return fmt.Errorf("stop prober: %w", c.Err())
		}
	})

	engine := wallet.New(cfg.wallet(), wallet.Deps{
		Store:    store,
		Remote:   client,
		Network:  monitor,
		Identity: wallet.NewIdentityTracker(cfg.User),
		Logger:   logger,
	})
	engine.Start(ctx)

	q.Add(func(context.Context) error {
		engine.Close()
		return nil
	})

	return &session{
		cfg:     cfg,
		engine:  engine,
		monitor: monitor,
		logger:  logger,
		queue:   q,
	}, nil
}

func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeBudget)
	defer cancel()

	return s.queue.Shutdown(ctx)
}

// awaitIdle blocks until no commit or drain is scheduled or running.
func (s *session) awaitIdle(ctx context.Context) error {
	t := time.NewTicker(idlePoll)
	defer t.Stop()

	for {
		if !s.engine.Snapshot().Syncing {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// settle lets background replays finish and then drains once more while
// online.
func (s *session) settle(ctx context.Context) error {
	if !s.monitor.IsOnline() {
		return nil
	}

	err := s.awaitIdle(ctx)
	if err != nil {
		return err
	}

	if s.engine.Snapshot().PendingCount == 0 {
		return nil
	}

	err = s.engine.SyncPendingNow(ctx)
	if err != nil {
		return fmt.Errorf("sync pending: %w", err)
	}

	return s.awaitIdle(ctx)
}
