package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/tokens"
)

// EntryResult is the output of the get command.
type EntryResult struct {
	ID          string `json:"id"`
	TimeLocked  string `json:"time_locked"`
	HashLocked  string `json:"hash_locked"`
	Token       string `json:"token"`
	Amount      string `json:"amount"` // base units
	Display     string `json:"display"`
	Expiration  int64  `json:"expiration"`
	Expired     bool   `json:"expired"`
	Remaining   string `json:"remaining,omitempty"`
	HashType    string `json:"hash_type"`
	HashLock    string `json:"hash_lock"`
	KeyMaxSize  uint8  `json:"key_max_size"`
	ProxyUnlock bool   `json:"proxy_unlock"`
}

func (r EntryResult) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HTLC %s\n", r.ID)
	fmt.Fprintf(&sb, "  time locked:  %s\n", r.TimeLocked)
	fmt.Fprintf(&sb, "  hash locked:  %s\n", r.HashLocked)
	fmt.Fprintf(&sb, "  amount:       %s\n", r.Display)
	fmt.Fprintf(&sb, "  expires:      %s", time.Unix(r.Expiration, 0).UTC().Format(time.RFC3339))
	if r.Expired {
		sb.WriteString(" (expired)\n")
	} else {
		fmt.Fprintf(&sb, " (in %s)\n", r.Remaining)
	}
	fmt.Fprintf(&sb, "  hash lock:    %s (%s)\n", r.HashLock, r.HashType)
	fmt.Fprintf(&sb, "  key max size: %d\n", r.KeyMaxSize)
	fmt.Fprintf(&sb, "  proxy unlock: %t", r.ProxyUnlock)
	return sb.String()
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a live HTLC",
		Long: `Show a live HTLC, its time to expiration by the frontier momentum, and
whether its hashLocked address allows proxy unlocks.

Unlocked and reclaimed HTLCs are removed by the contract and report
HTLC_NOT_FOUND. No signing key is needed.

Example:
  htlc get 0x5e...7a --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runGet(opts *RootOptions, arg string, cmd *cobra.Command) error {
	id, err := parseHash("htlc id", arg)
	if err != nil {
		return err
	}

	node, release, err := opts.connect(cmd)
	if err != nil {
		return err
	}
	defer release()

	ctx := commandContext(cmd)
	entry, err := node.GetHtlcByID(ctx, id)
	if err != nil {
		return htlcerr.Network(err, "get htlc").WithID(id)
	}
	if entry == nil {
		return htlcerr.New(htlcerr.CodeHtlcNotFound, "no such htlc").WithID(id)
	}
	frontier, err := node.GetFrontierMomentum(ctx)
	if err != nil {
		return htlcerr.Network(err, "get frontier momentum").WithID(id)
	}
	proxy, err := node.GetProxyUnlockStatus(ctx, entry.HashLocked)
	if err != nil {
		return htlcerr.Network(err, "get proxy unlock status")
	}

	// Display metadata is best effort.
	info, err := opts.tokenCache(node).Get(ctx, entry.TokenStandard)
	if err != nil {
		opts.logger.Debug("token metadata unavailable", "token", string(entry.TokenStandard), "error", err)
	}

	return opts.formatter(cmd).Success(newEntryResult(entry, frontier, info, proxy))
}

func newEntryResult(e *htlc.Entry, frontier ledger.Momentum, info *ledger.TokenInfo, proxy bool) EntryResult {
	out := EntryResult{
		ID:          e.ID.Hex(),
		TimeLocked:  e.TimeLocked.Hex(),
		HashLocked:  e.HashLocked.Hex(),
		Token:       string(e.TokenStandard),
		Amount:      e.Amount.String(),
		Display:     tokens.Describe(e.Amount, e.TokenStandard, info),
		Expiration:  e.ExpirationTime,
		Expired:     e.Expired(frontier.Timestamp),
		HashType:    e.HashLock.Type.String(),
		HashLock:    "0x" + e.HashLock.Hex(),
		KeyMaxSize:  e.KeyMaxSize,
		ProxyUnlock: proxy,
	}
	if !out.Expired {
		out.Remaining = e.Remaining(frontier.Timestamp).String()
	}
	return out
}
