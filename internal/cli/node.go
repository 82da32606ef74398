package cli

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/roach88/htlc/internal/config"
	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/rpcnode"
	"github.com/roach88/htlc/internal/signer"
	"github.com/roach88/htlc/internal/tokens"
)

// Node is everything the commands need from a ledger connection.
type Node interface {
	htlc.Ledger
	ledger.BlockSource
	ledger.Subscriber
	ledger.TokenSource
}

// NodeFactory connects to a ledger node. The returned func releases the
// connection.
type NodeFactory func(ctx context.Context, cfg *config.Config) (Node, func(), error)

func (o *RootOptions) dialNode(ctx context.Context, cfg *config.Config) (Node, func(), error) {
	c, err := rpcnode.Dial(ctx, cfg.Node.URL,
		rpcnode.WithTimeout(cfg.Node.Timeout),
		rpcnode.WithLogger(o.logger))
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

// connect opens the ledger connection for a command.
func (o *RootOptions) connect(cmd *cobra.Command) (Node, func(), error) {
	if err := o.prepare(cmd); err != nil {
		return nil, nil, err
	}
	factory := o.NodeFactory
	if factory == nil {
		factory = o.dialNode
	}
	node, release, err := factory(commandContext(cmd), o.Config)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "failed to connect to node", err)
	}
	if release == nil {
		release = func() {}
	}
	return node, release, nil
}

// service builds the lifecycle service for the local identity.
func (o *RootOptions) service(node Node) (*htlc.Service, error) {
	key, err := o.privateKey()
	if err != nil {
		return nil, err
	}
	sgn, err := signer.FromHex(key)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid private key", err)
	}
	params, err := o.Config.HTLCParams()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	svc, err := htlc.NewService(sgn, node, params, htlc.WithLogger(o.logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create service", err)
	}
	return svc, nil
}

func (o *RootOptions) tokenCache(node Node) *tokens.Cache {
	// NewCache replaces a non-positive size, so it cannot fail here.
	cache, _ := tokens.NewCache(node, tokens.DefaultCacheSize, o.logger)
	return cache
}

func (o *RootOptions) contractAddress() ledger.Address {
	return common.HexToAddress(o.Config.HTLC.ContractAddress)
}

func (o *RootOptions) privateKey() (string, error) {
	if o.KeySource != nil {
		return o.KeySource()
	}
	if o.Config.PrivateKey != "" {
		return o.Config.PrivateKey, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", NewExitError(ExitCommandError, "no signing key: set "+config.EnvPrivateKey)
	}
	return promptSecret("Private key (hex): ")
}

// promptSecret reads a line from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		clear(b)
		return "", WrapExitError(ExitCommandError, "failed to read private key", err)
	}
	s := strings.TrimSpace(string(b))
	clear(b)
	if s == "" {
		return "", NewExitError(ExitCommandError, "empty private key")
	}
	return s, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseHash decodes a 32-byte hex id or block hash, with or without 0x.
func parseHash(what, s string) (ledger.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return ledger.Hash{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q: %v", what, s, err))
	}
	if len(b) != common.HashLength {
		return ledger.Hash{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q: need %d bytes, got %d", what, s, common.HashLength, len(b)))
	}
	return common.BytesToHash(b), nil
}

func parseAddress(s string) (ledger.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return ledger.Address{}, htlcerr.New(htlcerr.CodeInvalidAddress, "%q is not an address", s)
	}
	return common.HexToAddress(s), nil
}

const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// parseDuration accepts a Go duration ("36h", "90m") or whole seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > maxDurationSeconds || n < -maxDurationSeconds {
			return 0, htlcerr.New(htlcerr.CodeInvalidDuration, "duration %d seconds is out of range", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, htlcerr.Wrap(htlcerr.CodeInvalidDuration, err, "duration %q is neither seconds nor a Go duration", s)
	}
	return d, nil
}

// isCancelled reports a shutdown requested by signal or parent context.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
