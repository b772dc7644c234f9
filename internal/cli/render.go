package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fastprodman/pointsync/internal/wallet"
)

type textWriter interface {
	writeText(w io.Writer) error
}

func render(w io.Writer, format string, v textWriter) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	}

	return v.writeText(w)
}

type viewOutput struct {
	User         string               `json:"user"`
	Balance      int64                `json:"balance"`
	Online       bool                 `json:"online"`
	Pending      int                  `json:"pending"`
	Dropped      int                  `json:"dropped"`
	LastSyncAt   *time.Time           `json:"lastSyncAt,omitempty"`
	Advisory     string               `json:"advisory,omitempty"`
	Durable      bool                 `json:"durable"`
	HasMore      bool                 `json:"hasMore"`
	Transactions []wallet.Transaction `json:"transactions,omitempty"`
}

func newViewOutput(v wallet.View, withTransactions bool) viewOutput {
	out := viewOutput{
		User:     v.UserID,
		Balance:  v.Balance,
		Online:   v.IsOnline,
		Pending:  v.PendingCount,
		Dropped:  v.DroppedCount,
		Advisory: v.Advisory,
		Durable:  v.Durable,
		HasMore:  v.HasMore,
	}
	if !v.LastSyncAt.IsZero() {
		t := v.LastSyncAt
		out.LastSyncAt = &t
	}
	if withTransactions {
		out.Transactions = v.Transactions
		if out.Transactions == nil {
			out.Transactions = []wallet.Transaction{}
		}
	}

	return out
}

func (o viewOutput) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "user:\t%s\n", o.User)
	fmt.Fprintf(tw, "balance:\t%d\n", o.Balance)
	fmt.Fprintf(tw, "online:\t%t\n", o.Online)
	fmt.Fprintf(tw, "pending:\t%d\n", o.Pending)
	if o.Dropped > 0 {
		fmt.Fprintf(tw, "dropped:\t%d\n", o.Dropped)
	}
	if o.LastSyncAt != nil {
		fmt.Fprintf(tw, "last sync:\t%s\n", o.LastSyncAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(tw, "last sync:\tnever\n")
	}
	if !o.Durable {
		fmt.Fprintf(tw, "storage:\tmemory only\n")
	}
	if o.Advisory != "" {
		fmt.Fprintf(tw, "note:\t%s\n", o.Advisory)
	}

	if o.Transactions != nil {
		fmt.Fprintln(tw)
		for _, tx := range o.Transactions {
			fmt.Fprintf(tw, "%s\t%s\t%+d\t%s\t%s\n",
				tx.Timestamp.Local().Format(time.DateTime), tx.Type, tx.Amount, describe(tx), syncMark(tx))
		}
		if o.HasMore {
			fmt.Fprintln(tw, "(more available: --more 1)")
		}
	}

	return tw.Flush()
}

func describe(tx wallet.Transaction) string {
	parts := []string{tx.Description}
	if tx.GameID != "" {
		parts = append(parts, "game:"+tx.GameID)
	}
	if tx.ReferralID != "" {
		parts = append(parts, "referral:"+tx.ReferralID)
	}

	return strings.TrimSpace(strings.Join(parts, " "))
}

func syncMark(tx wallet.Transaction) string {
	if tx.IsLocal() {
		return "unsynced"
	}

	return ""
}

type mutateOutput struct {
	Status      wallet.Status      `json:"status"`
	Balance     int64              `json:"balance"`
	Pending     int                `json:"pending"`
	Transaction wallet.Transaction `json:"transaction"`
	Advisory    string             `json:"advisory,omitempty"`
}

// newMutateOutput reports the mutation result with the queue state after the
// post-mutation sync.
func newMutateOutput(res wallet.Result, v wallet.View) mutateOutput {
	return mutateOutput{
		Status:      res.Status,
		Balance:     res.Balance,
		Pending:     v.PendingCount,
		Transaction: res.Transaction,
		Advisory:    v.Advisory,
	}
}

func (o mutateOutput) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "status:\t%s\n", o.Status)
	fmt.Fprintf(tw, "amount:\t%+d (%s)\n", o.Transaction.Amount, o.Transaction.Type)
	fmt.Fprintf(tw, "balance:\t%d\n", o.Balance)
	fmt.Fprintf(tw, "pending:\t%d\n", o.Pending)
	if o.Advisory != "" {
		fmt.Fprintf(tw, "note:\t%s\n", o.Advisory)
	}

	return tw.Flush()
}

type logoutOutput struct {
	User        string `json:"user"`
	PendingKept int    `json:"pendingKept"`
}

func (o logoutOutput) writeText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "signed out %s; %d queued change(s) kept for the next sync\n", o.User, o.PendingKept)
	return err
}
