// Package tokens resolves token metadata for display and converts between
// base-unit amounts and human decimal strings.
//
// Token metadata never affects HTLC correctness; it only shapes output.
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
)

// DefaultCacheSize bounds the number of cached token standards.
const DefaultCacheSize = 256

// Native token standards.
const (
	ZNN ledger.TokenStandard = "zts1znnxxxxxxxxxxxxx9z4ulx"
	QSR ledger.TokenStandard = "zts1qsrxxxxxxxxxxxxxmrhjll"
)

// ResolveStandard maps the case-insensitive aliases znn and qsr to their
// standards. Anything else is returned trimmed and unchanged.
func ResolveStandard(s string) ledger.TokenStandard {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "znn":
		return ZNN
	case "qsr":
		return QSR
	}
	return ledger.TokenStandard(s)
}

// Cache memoises TokenSource lookups. Concurrent misses for the same
// standard share one upstream call. Unknown tokens are not cached.
type Cache struct {
	source ledger.TokenSource
	cache  *lru.Cache[ledger.TokenStandard, ledger.TokenInfo]
	group  singleflight.Group
	logger *slog.Logger
}

// NewCache wraps source. size <= 0 uses DefaultCacheSize.
func NewCache(source ledger.TokenSource, size int, logger *slog.Logger) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	c, err := lru.New[ledger.TokenStandard, ledger.TokenInfo](size)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	return &Cache{source: source, cache: c, logger: logger}, nil
}

// Get returns metadata for standard, or (nil, nil) when the node does not
// know the token.
func (c *Cache) Get(ctx context.Context, standard ledger.TokenStandard) (*ledger.TokenInfo, error) {
	if info, ok := c.cache.Get(standard); ok {
		return &info, nil
	}

	v, err, _ := c.group.Do(string(standard), func() (any, error) {
		info, err := c.source.GetTokenInfo(ctx, standard)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, nil
		}
		clean := Normalize(*info)
		c.cache.Add(standard, clean)
		c.logger.Debug("token cached", "standard", string(standard), "symbol", clean.Symbol)
		return &clean, nil
	})
	if err != nil {
		return nil, htlcerr.Network(err, "get token info")
	}
	info, _ := v.(*ledger.TokenInfo)
	if info == nil {
		return nil, nil
	}
	out := *info
	return &out, nil
}

// Normalize puts display strings into NFC and trims surrounding space so
// visually identical symbols compare equal.
func Normalize(info ledger.TokenInfo) ledger.TokenInfo {
	info.Symbol = strings.TrimSpace(norm.NFC.String(info.Symbol))
	info.Name = strings.TrimSpace(norm.NFC.String(info.Name))
	return info
}

// FormatAmount renders a base-unit amount with the token's decimals,
// without trailing zeros.
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseAmount converts a decimal string into base units. More fractional
// digits than the token supports is an error, not a rounding.
func ParseAmount(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, htlcerr.Wrap(htlcerr.CodeInvalidAmount, err, "amount %q is not a number", s)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, htlcerr.New(htlcerr.CodeInvalidAmount, "amount %q has more than %d decimals", s, decimals)
	}
	return scaled.BigInt(), nil
}

// Describe formats amount with the token symbol, falling back to base units
// and the raw standard when metadata is unavailable.
func Describe(amount *big.Int, standard ledger.TokenStandard, info *ledger.TokenInfo) string {
	if info == nil {
		return fmt.Sprintf("%s %s", FormatAmount(amount, 0), standard)
	}
	return fmt.Sprintf("%s %s", FormatAmount(amount, info.Decimals), info.Symbol)
}
