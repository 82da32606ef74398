package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/roach88/htlc/internal/hashlock"
	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/tokens"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	HashType       string
	PreimageLength int
}

// CreateResult is the output of the create command.
type CreateResult struct {
	ID         string `json:"id"`
	BlockHash  string `json:"block_hash"`
	TimeLocked string `json:"time_locked"`
	HashLocked string `json:"hash_locked"`
	Token      string `json:"token"`
	Amount     string `json:"amount"` // base units
	Display    string `json:"display"`
	Expiration int64  `json:"expiration"`
	HashType   string `json:"hash_type"`
	HashLock   string `json:"hash_lock"`
	Preimage   string `json:"preimage,omitempty"`
}

func (r CreateResult) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HTLC created\n")
	fmt.Fprintf(&sb, "  id:          %s\n", r.ID)
	fmt.Fprintf(&sb, "  hash locked: %s\n", r.HashLocked)
	fmt.Fprintf(&sb, "  amount:      %s\n", r.Display)
	fmt.Fprintf(&sb, "  expires:     %s\n", time.Unix(r.Expiration, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "  hash lock:   %s (%s)", r.HashLock, r.HashType)
	if r.Preimage != "" {
		fmt.Fprintf(&sb, "\n  preimage:    %s\n", r.Preimage)
		fmt.Fprintf(&sb, "Store the preimage now. It is not saved anywhere and cannot be recovered.")
	}
	return sb.String()
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <hashLocked> <token> <amount> <duration> [hashLock]",
		Short: "Lock funds in a new HTLC",
		Long: `Lock amount of token for hashLocked until duration from the frontier
momentum's timestamp.

The token is a standard or one of the aliases znn and qsr. The amount is in
display units using the token's decimals. The duration is a Go duration
(36h, 90m) or whole seconds.

Without a hashLock a random preimage is generated and printed once; it is not
saved anywhere. With a hashLock (hex digest) no preimage is generated.

Examples:
  htlc create 0x3f...c1 znn 1.5 24h
  htlc create 0x3f...c1 qsr 10 3600 0x9a...e2 --hash-type sha2`,
		Args:          cobra.RangeArgs(4, 5),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.HashType, "hash-type", "sha3", "hash type (sha3|sha2)")
	cmd.Flags().IntVar(&opts.PreimageLength, "preimage-length", 0, "generated preimage length in bytes (0 = configured default)")

	return cmd
}

func runCreate(opts *CreateOptions, args []string, cmd *cobra.Command) error {
	hashLocked, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	hashType, err := hashlock.ParseHashType(opts.HashType)
	if err != nil {
		return err
	}
	duration, err := parseDuration(args[3])
	if err != nil {
		return err
	}
	var lock []byte
	if len(args) == 5 {
		l, err := hashlock.ParseHashLock(args[4], hashType)
		if err != nil {
			return err
		}
		lock = l.Bytes()
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

	ctx := commandContext(cmd)
	standard := tokens.ResolveStandard(args[1])
	info, err := opts.tokenCache(node).Get(ctx, standard)
	if err != nil {
		return err
	}
	if info == nil {
		return htlcerr.New(htlcerr.CodeInvalidAmount, "token %s does not exist", standard)
	}
	amount, err := tokens.ParseAmount(args[2], info.Decimals)
	if err != nil {
		return err
	}

	opts.formatter(cmd).VerboseLog("creating htlc for %s: %s %s over %s", hashLocked.Hex(), args[2], info.Symbol, duration)
	res, err := svc.Create(ctx, htlc.CreateParams{
		HashLocked:     hashLocked,
		TokenStandard:  standard,
		Amount:         amount,
		Duration:       duration,
		HashType:       hashType,
		HashLock:       lock,
		PreimageLength: opts.PreimageLength,
	})
	if err != nil {
		return err
	}

	out := newCreateResult(res, info)
	return opts.formatter(cmd).Success(out)
}

func newCreateResult(res *htlc.CreateResult, info *ledger.TokenInfo) CreateResult {
	e := res.Entry
	out := CreateResult{
		ID:         e.ID.Hex(),
		BlockHash:  res.Block.Hash.Hex(),
		TimeLocked: e.TimeLocked.Hex(),
		HashLocked: e.HashLocked.Hex(),
		Token:      string(e.TokenStandard),
		Amount:     e.Amount.String(),
		Display:    tokens.Describe(e.Amount, e.TokenStandard, info),
		Expiration: e.ExpirationTime,
		HashType:   e.HashLock.Type.String(),
		HashLock:   "0x" + e.HashLock.Hex(),
	}
	if res.Preimage != nil {
		out.Preimage = hexutil.Encode(res.Preimage)
	}
	return out
}
