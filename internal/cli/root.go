// Package cli implements the walletctl command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Format     string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for walletctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "walletctl",
		Short: "Offline-first rewards wallet",
		Long: `walletctl keeps a local copy of a rewards balance and its transactions,
applies changes immediately and syncs them with the ledger service when it is
reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default walletctl.yaml in . or the data dir)")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.String("remote-url", "", "ledger service base URL")
	flags.String("data-dir", "", "directory of the local store")
	flags.String("user", "", "signed-in user id")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("log-file", "", "rotate logs into this file instead of stderr")

	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewMutateCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))

	return cmd
}

// runSession loads the configuration, opens a session, runs fn and closes the
// session.
func runSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session) error) (retErr error) {
	cfg, err := loadConfig(opts.ConfigFile, cmd.Flags())
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	s, err := openSession(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	defer func() {
		cerr := s.close()
		if cerr != nil {
			retErr = errors.Join(retErr, cerr)
		}
	}()

	return fn(ctx, s)
}
