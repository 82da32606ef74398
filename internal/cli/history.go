package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/monitor"
	"github.com/roach88/htlc/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Journal string
	ID      string // optional - filter to one HTLC
}

// HistoryResult holds the complete history output.
type HistoryResult struct {
	Outcomes   []EventResult   `json:"outcomes"`
	Unresolved []PendingResult `json:"unresolved"`
	Stats      HistoryStats    `json:"stats"`
}

// PendingResult is an HTLC the journal has not seen resolve.
type PendingResult struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	TimeLocked string `json:"time_locked"`
	HashLocked string `json:"hash_locked"`
	Expiration int64  `json:"expiration"`
	RunID      string `json:"run_id"`
	Seq        int64  `json:"seq"`
}

// HistoryStats holds summary statistics for the history.
type HistoryStats struct {
	TotalEvents int `json:"total_events"`
	Unlocked    int `json:"unlocked"`
	Reclaimed   int `json:"reclaimed"`
	Errors      int `json:"errors"`
	Unresolved  int `json:"unresolved"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show outcomes recorded by the monitor",
		Long: `Show the outcomes a monitor journal has recorded, in sequence order,
followed by the HTLCs it still lists as unresolved.

The output includes:
- Outcomes: unlocks (with preimages), reclaims and errors
- Unresolved: HTLCs a resumed monitor would pick up
- Stats: Summary counts

Examples:
  htlc history --journal ./htlc.db
  htlc history --journal ./htlc.db --id 0x5e...7a --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (overrides monitor.journal)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "filter to one HTLC id")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	if err := opts.prepare(cmd); err != nil {
		return err
	}
	ctx := commandContext(cmd)

	path := opts.Journal
	if path == "" {
		path = opts.Config.Monitor.Journal
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no journal: use --journal or monitor.journal")
	}
	// Open would create an empty journal; a typo should fail instead.
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	var filter ledger.Hash
	if opts.ID != "" {
		id, err := parseHash("htlc id", opts.ID)
		if err != nil {
			return err
		}
		filter = id
	}

	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	outcomes, err := st.ReadOutcomes(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read outcomes", err)
	}
	unresolved, err := st.ReadUnresolved(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read unresolved", err)
	}

	result := buildHistory(outcomes, unresolved, filter)

	// Output results
	if opts.Format == "json" {
		return outputHistoryJSON(cmd, result)
	}
	return outputHistoryText(cmd, result)
}

func buildHistory(outcomes []store.Outcome, unresolved []store.Transition, filter ledger.Hash) HistoryResult {
	result := HistoryResult{
		Outcomes:   make([]EventResult, 0, len(outcomes)),
		Unresolved: []PendingResult{},
	}

	for _, o := range outcomes {
		ev := EventResult{
			Seq:      o.Seq,
			ID:       o.HtlcID.Hex(),
			Outcome:  o.Outcome,
			Error:    o.Error,
			Terminal: o.Terminal,
		}
		if len(o.Preimage) > 0 {
			ev.Preimage = hexutil.Encode(o.Preimage)
		}
		if o.BlockHash != (ledger.Hash{}) {
			ev.BlockHash = o.BlockHash.Hex()
		}
		result.Outcomes = append(result.Outcomes, ev)

		switch monitor.Outcome(o.Outcome) {
		case monitor.OutcomeUnlocked:
			result.Stats.Unlocked++
		case monitor.OutcomeReclaimed:
			result.Stats.Reclaimed++
		default:
			result.Stats.Errors++
		}
	}

	for _, tr := range unresolved {
		if filter != (ledger.Hash{}) && tr.HtlcID != filter {
			continue
		}
		result.Unresolved = append(result.Unresolved, PendingResult{
			ID:         tr.HtlcID.Hex(),
			State:      tr.State,
			TimeLocked: tr.TimeLocked.Hex(),
			HashLocked: tr.HashLocked.Hex(),
			Expiration: tr.ExpirationTime,
			RunID:      tr.RunID,
			Seq:        tr.Seq,
		})
	}

	result.Stats.TotalEvents = len(result.Outcomes)
	result.Stats.Unresolved = len(result.Unresolved)
	return result
}

func outputHistoryJSON(cmd *cobra.Command, result HistoryResult) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(CLIResponse{Status: "ok", Data: result})
}

func outputHistoryText(cmd *cobra.Command, result HistoryResult) error {
	out := cmd.OutOrStdout()

	if len(result.Outcomes) == 0 && len(result.Unresolved) == 0 {
		fmt.Fprintln(out, "No history recorded.")
		return nil
	}

	if len(result.Outcomes) > 0 {
		fmt.Fprintln(out, "Outcomes:")
		for _, ev := range result.Outcomes {
			fmt.Fprintf(out, "  %s\n", ev)
		}
	}
	if len(result.Unresolved) > 0 {
		if len(result.Outcomes) > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, "Unresolved:")
		for _, p := range result.Unresolved {
			fmt.Fprintf(out, "  [%d] %s %s (time locked %s, expires %d)\n", p.Seq, p.ID, p.State, p.TimeLocked, p.Expiration)
		}
	}

	s := result.Stats
	fmt.Fprintf(out, "\n%d events: %d unlocked, %d reclaimed, %d errors; %d unresolved\n",
		s.TotalEvents, s.Unlocked, s.Reclaimed, s.Errors, s.Unresolved)
	return nil
}
