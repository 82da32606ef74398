package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/htlc/internal/hashlock"
)

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock <id> <preimage>",
		Short: "Release an HTLC's funds by revealing the preimage",
		Long: `Unlock a live HTLC with its hex preimage. The funds always go to the
hashLocked address. A caller other than hashLocked may unlock only when
hashLocked has allowed proxy unlocks.

The preimage becomes public once the operation lands on the ledger.

Example:
  htlc unlock 0x5e...7a 0x9f86d081884c7d65...`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnlock(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runUnlock(opts *RootOptions, args []string, cmd *cobra.Command) error {
	id, err := parseHash("htlc id", args[0])
	if err != nil {
		return err
	}
	preimage, err := hashlock.DecodePreimage(args[1])
	if err != nil {
		return err
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

	rc, err := svc.Unlock(commandContext(cmd), id, preimage)
	if err != nil {
		return err
	}
	return opts.formatter(cmd).Success(newReceiptResult("unlock", id, rc))
}
