package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/pointsync/internal/wallet"
	"github.com/spf13/cobra"
)

func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the balance and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, func(ctx context.Context, s *session) error {
				err := s.refresh(ctx)
				if err != nil {
					return err
				}

				v := s.engine.Snapshot()
				if v.UserID == "" {
					return wallet.ErrNotAuthenticated
				}

				return render(cmd.OutOrStdout(), opts.Format, newViewOutput(v, false))
			})
		},
	}
}

type mutateOptions struct {
	amount      int64
	description string
	txType      string
	gameID      string
	referralID  string
}

func NewMutateCommand(opts *RootOptions) *cobra.Command {
	mo := &mutateOptions{}

	cmd := &cobra.Command{
		Use:   "mutate",
		Short: "Apply a signed balance change",
		Long: `Apply a signed balance change. The change is applied locally at once and
sent to the ledger service when it is reachable; otherwise it is queued.

Example:
  walletctl mutate --amount 50 --description "Task reward"
  walletctl mutate --amount -20 --description "Shop" --type spend`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := wallet.Mutation{
				Amount:      mo.amount,
				Description: mo.description,
				Type:        wallet.TxType(mo.txType),
			}
			switch {
			case mo.gameID != "":
				m.Extras = wallet.GameRef(mo.gameID)
			case mo.referralID != "":
				m.Extras = wallet.ReferralRef(mo.referralID)
			}

			return runSession(cmd, opts, func(ctx context.Context, s *session) error {
				res, err := s.engine.Mutate(ctx, m)
				if err != nil {
					return err
				}

				err = s.settle(ctx)
				if err != nil {
					return err
				}

				return render(cmd.OutOrStdout(), opts.Format, newMutateOutput(res, s.engine.Snapshot()))
			})
		},
	}

	cmd.Flags().Int64Var(&mo.amount, "amount", 0, "signed amount (required)")
	cmd.Flags().StringVar(&mo.description, "description", "", "transaction description")
	cmd.Flags().StringVar(&mo.txType, "type", "", "earn|spend|referral|bonus (default by sign)")
	cmd.Flags().StringVar(&mo.gameID, "game", "", "game that produced the change")
	cmd.Flags().StringVar(&mo.referralID, "referral", "", "referral that produced the change")
	_ = cmd.MarkFlagRequired("amount")
	cmd.MarkFlagsMutuallyExclusive("game", "referral")

	return cmd
}

func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	var more int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if more < 0 {
				return fmt.Errorf("--more must not be negative, got %d", more)
			}

			return runSession(cmd, opts, func(ctx context.Context, s *session) error {
				err := s.refresh(ctx)
				if err != nil {
					return err
				}

				for range more {
					if !s.monitor.IsOnline() {
						break
					}

					page, err := s.engine.LoadMore(ctx)
					if err != nil {
						return err
					}
					if len(page) == 0 {
						break
					}
				}

				v := s.engine.Snapshot()
				if v.UserID == "" {
					return wallet.ErrNotAuthenticated
				}

				return render(cmd.OutOrStdout(), opts.Format, newViewOutput(v, true))
			})
		},
	}

	cmd.Flags().IntVar(&more, "more", 0, "older pages to load after the newest one")

	return cmd
}

func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, func(ctx context.Context, s *session) error {
				if s.engine.Snapshot().UserID == "" {
					return wallet.ErrNotAuthenticated
				}

				err := s.settle(ctx)
				if err != nil {
					return err
				}

				return render(cmd.OutOrStdout(), opts.Format, newViewOutput(s.engine.Snapshot(), false))
			})
		},
	}
}

func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var (
		interval time.Duration
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the balance whenever it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}

			return runSession(cmd, opts, func(ctx context.Context, s *session) error {
				if duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, duration)
					defer cancel()
				}

				err := s.watch(ctx, interval, func(v wallet.View) error {
					return render(cmd.OutOrStdout(), opts.Format, newViewOutput(v, false))
				})
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return nil
				}

				return err
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (0 runs until interrupted)")

	return cmd
}

func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session; queued changes are kept until synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, func(ctx context.Context, s *session) error {
				err := s.settle(ctx)
				if err != nil {
					return err
				}

				v := s.engine.Snapshot()

				err = s.engine.Logout(ctx)
				if err != nil {
					return err
				}

				return render(cmd.OutOrStdout(), opts.Format, logoutOutput{User: v.UserID, PendingKept: v.PendingCount})
			})
		},
	}
}

// refresh replays queued changes and fetches a fresh snapshot when online.
// A failed fetch leaves the cached state in place.
func (s *session) refresh(ctx context.Context) error {
	if !s.monitor.IsOnline() {
		return nil
	}

	err := s.settle(ctx)
	if err != nil {
		return err
	}

	err = s.engine.Refresh(ctx)
	if err != nil {
		if errors.Is(err, wallet.ErrNotAuthenticated) {
			return err
		}

		s.logger.Warn("refresh failed, showing cached state", "error", err)
	}

	return nil
}

// watch calls fn with the first view and with every view whose visible state
// differs from the previous one, until ctx ends.
func (s *session) watch(ctx context.Context, interval time.Duration, fn func(wallet.View) error) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	var (
		last  wallet.View
		shown bool
	)

	for {
		v := s.engine.Snapshot()
		if v.UserID == "" {
			return wallet.ErrNotAuthenticated
		}

		if !shown || changed(last, v) {
			err := fn(v)
			if err != nil {
				return err
			}

			last, shown = v, true
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func changed(a, b wallet.View) bool {
	return a.Balance != b.Balance ||
		a.PendingCount != b.PendingCount ||
		a.DroppedCount != b.DroppedCount ||
		a.IsOnline != b.IsOnline ||
		!a.LastSyncAt.Equal(b.LastSyncAt)
}
