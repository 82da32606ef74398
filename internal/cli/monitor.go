package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/monitor"
	"github.com/roach88/htlc/internal/store"
)

// MonitorOptions holds flags for the monitor command.
type MonitorOptions struct {
	*RootOptions
	Journal string
	Resume  bool

	// Signals overrides the shutdown signals (for testing). If nil, defaults
	// to SIGINT and SIGTERM.
	Signals []os.Signal
}

// EventResult is one line of monitor output.
type EventResult struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	Outcome   string `json:"outcome"`
	Preimage  string `json:"preimage,omitempty"`
	BlockHash string `json:"block_hash,omitempty"`
	Error     string `json:"error,omitempty"`
	Terminal  bool   `json:"terminal"`
}

func (r EventResult) String() string {
	switch monitor.Outcome(r.Outcome) {
	case monitor.OutcomeUnlocked:
		return fmt.Sprintf("[%d] %s unlocked in %s, preimage %s", r.Seq, r.ID, r.BlockHash, r.Preimage)
	case monitor.OutcomeReclaimed:
		return fmt.Sprintf("[%d] %s reclaimed in %s", r.Seq, r.ID, r.BlockHash)
	}
	if r.Terminal {
		return fmt.Sprintf("[%d] %s dropped: %s", r.Seq, r.ID, r.Error)
	}
	return fmt.Sprintf("[%d] %s retrying: %s", r.Seq, r.ID, r.Error)
}

func newEventResult(ev monitor.Event) EventResult {
	out := EventResult{
		Seq:      ev.Seq,
		ID:       ev.ID.Hex(),
		Outcome:  string(ev.Outcome),
		Terminal: ev.Terminal,
	}
	if len(ev.Preimage) > 0 {
		out.Preimage = hexutil.Encode(ev.Preimage)
	}
	if ev.BlockHash != (ledger.Hash{}) {
		out.BlockHash = ev.BlockHash.Hex()
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}

// NewMonitorCommand creates the monitor command.
func NewMonitorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MonitorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "monitor [id...]",
		Short: "Watch HTLCs until they resolve",
		Long: `Run the reconciliation loop over the given HTLCs.

HTLCs you created are reclaimed as soon as they expire. HTLCs created by
someone else are watched until they are unlocked (the preimage is reported)
or reclaimed by their creator. The monitor exits when every HTLC has
resolved, or on Ctrl-C.

With a journal (--journal or monitor.journal in the config) every state
change and outcome is recorded in SQLite. --resume adds the HTLCs the
journal still lists as unresolved and continues its sequence numbers.

In JSON mode each outcome is printed as one JSON document per line.

Examples:
  htlc monitor 0x5e...7a 0x91...0c
  htlc monitor --journal ./htlc.db --resume
  htlc monitor 0x5e...7a --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (overrides monitor.journal)")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "also track HTLCs the journal lists as unresolved")

	return cmd
}

func runMonitor(opts *MonitorOptions, args []string, cmd *cobra.Command) error {
	if err := opts.prepare(cmd); err != nil {
		return err
	}
	cfg := opts.Config

	ids := make([]ledger.Hash, 0, len(args))
	for _, arg := range args {
		id, err := parseHash("htlc id", arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	journalPath := opts.Journal
	if journalPath == "" {
		journalPath = cfg.Monitor.Journal
	}
	if opts.Resume && journalPath == "" {
		return NewExitError(ExitCommandError, "--resume needs a journal")
	}

	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	mopts := []monitor.Option{
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithBackoff(cfg.Backoff()),
		monitor.WithSettleRetries(cfg.Monitor.SettleRetries),
		monitor.WithLoadConcurrency(cfg.Monitor.LoadConcurrency),
		monitor.WithContractAddress(opts.contractAddress()),
		monitor.WithLogger(opts.logger),
	}

	if journalPath != "" {
		slog.Info("opening journal", "path", journalPath)
		st, err := store.Open(journalPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		mopts = append(mopts, monitor.WithJournal(st))

		if opts.Resume {
			resumed, seq, err := resumeFrom(ctx, st)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read journal", err)
			}
			slog.Info("resuming from journal", "unresolved", len(resumed), "seq", seq)
			ids = append(ids, resumed...)
			mopts = append(mopts, monitor.WithStartSeq(seq))
		}
	}

	if len(ids) == 0 {
		return NewExitError(ExitCommandError, "no HTLCs to monitor")
	}

	node, release, err := opts.connect(cmd)
	if err != nil {
		return err
	}
	defer release()
	svc, err := opts.service(node)
	if err != nil {
		return err
	}

	// Setup signal handling for graceful shutdown
	signals := opts.Signals
	if signals == nil {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, signals...)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	f := opts.formatter(cmd)
	m, events := monitor.Start(ctx, svc, node, ids, mopts...)
	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "Monitoring %d HTLC(s) as %s (run %s).\n", len(ids), svc.Address().Hex(), m.RunID())
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	}

	var unlocked, reclaimed, failed int
	for ev := range events {
		switch ev.Outcome {
		case monitor.OutcomeUnlocked:
			unlocked++
		case monitor.OutcomeReclaimed:
			reclaimed++
		default:
			if ev.Terminal {
				failed++
			}
		}
		if err := f.Success(newEventResult(ev)); err != nil {
			slog.Warn("failed to write event", "seq", ev.Seq, "error", err)
		}
	}

	if err := m.Wait(); err != nil && !isCancelled(err) {
		return WrapExitError(ExitFailure, "monitor error", err)
	}

	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped: %d unlocked, %d reclaimed, %d dropped, %d still tracked.\n",
			unlocked, reclaimed, failed, m.Tracked())
	}
	slog.Info("monitor stopped gracefully", "run_id", m.RunID())
	return nil
}

// resumeFrom returns the unresolved HTLC ids in the journal and the seq the
// new run starts from.
func resumeFrom(ctx context.Context, st *store.Store) ([]ledger.Hash, int64, error) {
	unresolved, err := st.ReadUnresolved(ctx)
	if err != nil {
		return nil, 0, err
	}
	seq, err := st.MaxSeq(ctx)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]ledger.Hash, len(unresolved))
	for i, tr := range unresolved {
		ids[i] = tr.HtlcID
	}
	return ids, seq, nil
}
