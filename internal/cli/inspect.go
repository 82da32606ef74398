package cli

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/roach88/htlc/internal/contract"
	"github.com/roach88/htlc/internal/inspect"
	"github.com/roach88/htlc/internal/tokens"
)

// InspectResult is the JSON output of the inspect command.
type InspectResult struct {
	BlockHash string         `json:"block_hash"`
	Status    string         `json:"status"`
	Caller    string         `json:"caller"`
	ToAddress string         `json:"to_address"`
	Token     string         `json:"token"`
	Amount    string         `json:"amount"` // base units
	Display   string         `json:"display"`
	Method    string         `json:"method"`
	Signature string         `json:"signature"`
	Args      map[string]any `json:"args,omitempty"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <blockHash>",
		Short: "Decode an HTLC contract call",
		Long: `Fetch an account block and decode its payload as an HTLC contract call,
showing the method, its arguments and how far the block has settled.

Examples:
  htlc inspect 0x8c...11
  htlc inspect 0x8c...11 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runInspect(opts *RootOptions, arg string, cmd *cobra.Command) error {
	hash, err := parseHash("block hash", arg)
	if err != nil {
		return err
	}

	node, release, err := opts.connect(cmd)
	if err != nil {
		return err
	}
	defer release()

	in := inspect.New(node, opts.tokenCache(node), opts.contractAddress(), opts.logger)
	report, err := in.Inspect(commandContext(cmd), hash)
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(newInspectResult(report))
	}
	return inspect.Describe(cmd.OutOrStdout(), report)
}

func newInspectResult(r *inspect.Report) InspectResult {
	out := InspectResult{
		BlockHash: r.BlockHash.Hex(),
		Status:    string(r.Status),
		Caller:    r.Caller.Hex(),
		ToAddress: r.ToAddress.Hex(),
		Token:     string(r.Token),
		Amount:    "0",
		Display:   tokens.Describe(r.Amount, r.Token, r.TokenInfo),
		Method:    r.Call.Method(),
		Signature: contract.Signature(r.Call.Method()),
	}
	if r.Amount != nil {
		out.Amount = r.Amount.String()
	}

	switch c := r.Call.(type) {
	case contract.CreateCall:
		out.Args = map[string]any{
			"hashLocked":     c.HashLocked.Hex(),
			"expirationTime": c.ExpirationTime,
			"hashType":       uint8(c.HashType),
			"keyMaxSize":     c.KeyMaxSize,
			"hashLock":       hexutil.Encode(c.HashLock),
		}
	case contract.ReclaimCall:
		out.Args = map[string]any{"id": c.ID.Hex()}
	case contract.UnlockCall:
		out.Args = map[string]any{
			"id":       c.ID.Hex(),
			"preimage": hexutil.Encode(c.Preimage),
		}
	}
	return out
}
