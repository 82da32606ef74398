package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/htlc/internal/hashlock"
)

// HashOptions holds flags for the hash command.
type HashOptions struct {
	*RootOptions
	HashType string
}

// HashResult is the output of the hash command.
type HashResult struct {
	HashType string `json:"hash_type"`
	HashLock string `json:"hash_lock"`
}

func (r HashResult) String() string {
	return fmt.Sprintf("%s (%s)", r.HashLock, r.HashType)
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HashOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hash <preimage>",
		Short: "Compute the hash lock of a preimage",
		Long: `Compute the hash lock of a hex preimage, for use as the hashLock argument
of create. Runs offline.

Examples:
  htlc hash 0x68656c6c6f
  htlc hash 68656c6c6f --hash-type sha2`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.HashType, "hash-type", "sha3", "hash type (sha3|sha2)")

	return cmd
}

func runHash(opts *HashOptions, arg string, cmd *cobra.Command) error {
	hashType, err := hashlock.ParseHashType(opts.HashType)
	if err != nil {
		return err
	}
	preimage, err := hashlock.DecodePreimage(arg)
	if err != nil {
		return err
	}
	lock, err := hashlock.Digest(preimage, hashType)
	if err != nil {
		return err
	}
	return opts.formatter(cmd).Success(HashResult{
		HashType: lock.Type.String(),
		HashLock: "0x" + lock.Hex(),
	})
}
