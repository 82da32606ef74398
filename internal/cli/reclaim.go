package cli

import (
	"github.com/spf13/cobra"
)

// NewReclaimCommand creates the reclaim command.
func NewReclaimCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reclaim <id>",
		Short: "Return an expired HTLC's funds to its creator",
		Long: `Reclaim an expired HTLC. Only the timeLocked address (the creator) may
reclaim, and only once the frontier momentum's timestamp has reached the
expiration time.

Example:
  htlc reclaim 0x5e...7a`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReclaim(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runReclaim(opts *RootOptions, arg string, cmd *cobra.Command) error {
	id, err := parseHash("htlc id", arg)
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

	rc, err := svc.Reclaim(commandContext(cmd), id)
	if err != nil {
		return err
	}
	return opts.formatter(cmd).Success(newReceiptResult("reclaim", id, rc))
}
