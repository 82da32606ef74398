package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/htlc/internal/config"
)

// RootOptions holds global flags and shared state for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Config is loaded in PersistentPreRunE. Tests may set it directly.
	Config *config.Config

	// NodeFactory overrides how commands connect to the ledger (for testing).
	// If nil, commands dial Config.Node.URL over JSON-RPC.
	NodeFactory NodeFactory

	// KeySource overrides how the signing key is obtained (for testing).
	// If nil, the key comes from HTLC_PRIVATE_KEY or a terminal prompt.
	KeySource func() (string, error)

	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the htlc CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions creates the root command around opts so callers
// can inject a node factory or key source.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "htlc",
		Short: "Hashed timelock contracts on the ledger",
		Long: `Create, unlock and reclaim hashed timelock contracts, inspect
contract calls, and run the reconciliation monitor that reclaims expired
entries and reports counterparty unlocks.

Configuration is read from --config (YAML), then HTLC_NODE_URL,
HTLC_LOG_LEVEL and HTLC_JOURNAL. The signing key comes from
HTLC_PRIVATE_KEY or, on a terminal, an interactive prompt.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.prepare(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")

	// Add subcommands
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewReclaimCommand(opts))
	cmd.AddCommand(NewUnlockCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewProxyCommand(opts))
	cmd.AddCommand(NewHashCommand(opts))
	cmd.AddCommand(NewMonitorCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// prepare loads the configuration once and installs the default logger.
// Subcommands call it too, so they work when executed without the root.
func (o *RootOptions) prepare(cmd *cobra.Command) error {
	if o.Format == "" {
		o.Format = "text"
	}
	if o.Config == nil {
		cfg, err := config.Load(o.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		o.Config = cfg
	}
	if o.logger != nil {
		return nil
	}

	level, err := o.Config.Log.SlogLevel()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.logger = newLogger(cmd.ErrOrStderr(), o.Config.Log.Format, level)
	slog.SetDefault(o.logger)
	return nil
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// formatter builds the output formatter for cmd. JSON goes to stdout so it
// can be piped; diagnostics always go to stderr.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
