package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fastprodman/pointsync/internal/api/apitest"
	"github.com/fastprodman/pointsync/internal/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

// deadURL returns the address of a server that is no longer listening.
func deadURL(t *testing.T) string {
	t.Helper()

	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	return url
}

func baseArgs(remoteURL, dataDir string) []string {
	return []string{
		"--remote-url", remoteURL,
		"--data-dir", dataDir,
		"--user", "u1",
		"--log-level", "error",
	}
}

func decodeView(t *testing.T, raw string) viewOutput {
	t.Helper()

	var v viewOutput
	require.NoError(t, json.Unmarshal([]byte(raw), &v), raw)

	return v
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walletctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
remote_url: http://ledger.internal:9000
user: file-user
page_size: 5
commit_timeout: 2s
probe_interval: 250ms
log_level: debug
`), 0o600))

	t.Setenv("WALLET_USER", "env-user")
	t.Setenv("WALLET_MAX_RETRIES", "7")

	flags := NewRootCommand().PersistentFlags()
	require.NoError(t, flags.Parse([]string{"--data-dir", "/tmp/wallet-flag"}))

	cfg, err := loadConfig(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "http://ledger.internal:9000", cfg.RemoteURL)
	assert.Equal(t, "env-user", cfg.User)
	assert.Equal(t, "/tmp/wallet-flag", cfg.DataDir)
	assert.Equal(t, 5, cfg.PageSize)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, wallet.DefaultConfig().MaxCachedTransactions, cfg.MaxCachedTransactions)
	assert.Equal(t, wallet.DefaultConfig().MaxLoadedTransactions, cfg.MaxLoadedTransactions)
	assert.Equal(t, 2*time.Second, cfg.CommitTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.ProbeInterval)
	assert.Equal(t, "debug", cfg.LogLevel)

	wcfg := cfg.wallet()
	assert.Equal(t, 5, wcfg.PageSize)
	assert.Equal(t, 7, wcfg.MaxRetries)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := loadConfig(filepath.Join(dir, "missing.yaml"), nil)
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log_level: loud\n"), 0o600))

	_, err = loadConfig(bad, nil)
	require.ErrorContains(t, err, "log_level")
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := runCLI(t, "--format", "xml", "balance")
	require.ErrorContains(t, err, "invalid format")
}

func TestCommands_OfflineMutationSyncsLater(t *testing.T) {
	t.Parallel()

	srv, ledger := apitest.NewServer(t)
	dataDir := t.TempDir()
	offline := baseArgs(deadURL(t), dataDir)
	online := baseArgs(srv.URL, dataDir)

	out, err := runCLI(t, append(offline, "mutate", "--amount", "50", "--description", "Task reward")...)
	require.NoError(t, err)
	assert.Contains(t, out, string(wallet.StatusPendingOffline))
	assert.Contains(t, out, wallet.AdvisorySavedLocally)
	assert.Zero(t, ledger.Balance("u1"))

	out, err = runCLI(t, append(offline, "--format", "json", "balance")...)
	require.NoError(t, err)
	v := decodeView(t, out)
	assert.Equal(t, int64(50), v.Balance)
	assert.Equal(t, 1, v.Pending)
	assert.False(t, v.Online)

	out, err = runCLI(t, append(online, "--format", "json", "sync")...)
	require.NoError(t, err)
	v = decodeView(t, out)
	assert.Equal(t, int64(50), v.Balance)
	assert.Zero(t, v.Pending)
	assert.Equal(t, int64(50), ledger.Balance("u1"))

	out, err = runCLI(t, append(online, "--format", "json", "history")...)
	require.NoError(t, err)
	v = decodeView(t, out)
	require.Len(t, v.Transactions, 1)
	assert.False(t, v.Transactions[0].IsLocal())
	assert.Equal(t, "Task reward", v.Transactions[0].Description)
	assert.NotNil(t, v.LastSyncAt)
}

func TestCommands_OnlineMutationCommits(t *testing.T) {
	t.Parallel()

	srv, ledger := apitest.NewServer(t)
	args := baseArgs(srv.URL, t.TempDir())

	_, err := runCLI(t, append(args, "mutate", "--amount", "30", "--game", "g-1")...)
	require.NoError(t, err)

	out, err := runCLI(t, append(args, "--format", "json", "mutate", "--amount", "-10", "--description", "Shop")...)
	require.NoError(t, err)

	var res mutateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, wallet.StatusCommitted, res.Status)
	assert.Equal(t, int64(20), res.Balance)
	assert.Equal(t, wallet.TxSpend, res.Transaction.Type)
	assert.Zero(t, res.Pending)
	assert.Equal(t, int64(20), ledger.Balance("u1"))

	_, err = runCLI(t, append(args, "mutate", "--amount", "-100")...)
	require.ErrorIs(t, err, wallet.ErrInsufficientBalance)
	assert.Equal(t, int64(20), ledger.Balance("u1"))

	out, err = runCLI(t, append(args, "history")...)
	require.NoError(t, err)
	assert.Contains(t, out, "game:g-1")
	assert.Contains(t, out, "Shop")
}

func TestCommands_HistoryLoadsOlderPages(t *testing.T) {
	t.Parallel()

	srv, _ := apitest.NewServer(t)
	dataDir := t.TempDir()
	args := append(baseArgs(srv.URL, dataDir), "--config", writeConfig(t, "page_size: 2\n"))

	for range 5 {
		_, err := runCLI(t, append(args, "mutate", "--amount", "1")...)
		require.NoError(t, err)
	}

	out, err := runCLI(t, append(args, "--format", "json", "history")...)
	require.NoError(t, err)
	v := decodeView(t, out)
	assert.Len(t, v.Transactions, 2)
	assert.True(t, v.HasMore)

	out, err = runCLI(t, append(args, "--format", "json", "history", "--more", "5")...)
	require.NoError(t, err)
	v = decodeView(t, out)
	assert.Len(t, v.Transactions, 5)
	assert.False(t, v.HasMore)
}

func TestCommands_LogoutKeepsQueuedChanges(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	args := baseArgs(deadURL(t), dataDir)

	_, err := runCLI(t, append(args, "mutate", "--amount", "15")...)
	require.NoError(t, err)

	out, err := runCLI(t, append(args, "logout")...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 queued change(s) kept")

	out, err = runCLI(t, append(args, "--format", "json", "balance")...)
	require.NoError(t, err)
	v := decodeView(t, out)
	assert.Equal(t, int64(15), v.Balance)
	assert.Equal(t, 1, v.Pending)
}

func TestCommands_WatchPrintsInitialView(t *testing.T) {
	t.Parallel()

	args := baseArgs(deadURL(t), t.TempDir())

	out, err := runCLI(t, append(args, "watch", "--interval", "10ms", "--for", "50ms")...)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "balance:"))
	assert.Contains(t, out, "online:")
}

func TestCommands_RequireUser(t *testing.T) {
	t.Parallel()

	args := []string{"--remote-url", deadURL(t), "--data-dir", t.TempDir(), "--log-level", "error"}

	_, err := runCLI(t, append(args, "balance")...)
	require.ErrorIs(t, err, wallet.ErrNotAuthenticated)

	_, err = runCLI(t, append(args, "mutate", "--amount", "1")...)
	require.ErrorIs(t, err, wallet.ErrNotAuthenticated)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "walletctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}
