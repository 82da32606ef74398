package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
)

// ProxyStatusResult is the output of the proxy status command.
type ProxyStatusResult struct {
	Address string `json:"address"`
	Allowed bool   `json:"allowed"`
}

func (r ProxyStatusResult) String() string {
	if r.Allowed {
		return fmt.Sprintf("%s allows proxy unlock", r.Address)
	}
	return fmt.Sprintf("%s does not allow proxy unlock", r.Address)
}

// NewProxyCommand creates the proxy command group.
func NewProxyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Manage proxy unlock permission",
		Long: `Proxy unlock lets any address unlock HTLCs hash-locked to you. The funds
still go to you; only the unlock operation is submitted by someone else.

Examples:
  htlc proxy allow
  htlc proxy deny
  htlc proxy status 0x3f...c1`,
	}

	cmd.AddCommand(newProxyUpdateCommand(rootOpts, "allow", "Allow proxy unlocks for your address", true))
	cmd.AddCommand(newProxyUpdateCommand(rootOpts, "deny", "Revoke proxy unlocks for your address", false))
	cmd.AddCommand(newProxyStatusCommand(rootOpts))
	return cmd
}

func newProxyUpdateCommand(opts *RootOptions, use, short string, allow bool) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			node, release, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer release()
			svc, err := opts.service(node)
			if err != nil {
				return err
			}

			op, update := "allow proxy unlock", svc.AllowProxyUnlock
			if !allow {
				op, update = "deny proxy unlock", svc.DenyProxyUnlock
			}
			rc, err := update(commandContext(cmd))
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(newReceiptResult(op, ledger.Hash{}, rc))
		},
	}
}

func newProxyStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status [address]",
		Short:         "Show whether an address allows proxy unlocks",
		Long:          "Show whether an address allows proxy unlocks. Defaults to your own address.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr ledger.Address
			if len(args) == 1 {
				a, err := parseAddress(args[0])
				if err != nil {
					return err
				}
				addr = a
			}

			node, release, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer release()

			if len(args) == 0 {
				svc, err := opts.service(node)
				if err != nil {
					return err
				}
				addr = svc.Address()
			}

			allowed, err := node.GetProxyUnlockStatus(commandContext(cmd), addr)
			if err != nil {
				return htlcerr.Network(err, "get proxy unlock status")
			}
			return opts.formatter(cmd).Success(ProxyStatusResult{Address: addr.Hex(), Allowed: allowed})
		},
	}
}
