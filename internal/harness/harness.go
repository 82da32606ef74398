package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/htlc/internal/hashlock"
	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/htlcerr"
	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/monitor"
	"github.com/roach88/htlc/internal/testutil"
	"github.com/roach88/htlc/internal/tokens"
)

// DefaultNow is the starting frontier timestamp when a scenario sets none.
const DefaultNow int64 = 1_700_000_000

// Output cases that are not htlcerr codes.
const (
	CaseSuccess = "Success"
	CaseError   = "Error"
)

const tokenDecimals = 8

var accountKeys = map[string]string{
	"alice": testutil.AliceKey,
	"bob":   testutil.BobKey,
	"carol": testutil.CarolKey,
}

// Harness executes scenario steps against a fresh in-memory node.
type Harness struct {
	node     *testutil.FakeNode
	services map[string]*htlc.Service
	ids      map[string]ledger.Hash
	names    map[ledger.Hash]string
	clock    *monitor.Clock
	logger   *slog.Logger
	runID    string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh node, so scenarios are isolated.
// Execution flow:
//  1. Create the node at the scenario's start time and fund the accounts
//  2. Execute setup steps, which must succeed
//  3. Execute flow steps, tracing each and checking expect clauses
//  4. Evaluate assertions against the trace and the node
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{Ctx: ctx, Harness: h}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	now := scenario.Now
	if now == 0 {
		now = DefaultNow
	}

	h := &Harness{
		node:     testutil.NewFakeNode(now),
		services: make(map[string]*htlc.Service, len(accountKeys)),
		ids:      make(map[string]ledger.Hash),
		names:    make(map[ledger.Hash]string),
		clock:    monitor.NewClock(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		runID:    scenario.Name,
	}
	h.node.AddToken(ledger.TokenInfo{Standard: tokens.ZNN, Symbol: "ZNN", Name: "Zenon", Decimals: tokenDecimals})
	h.node.AddToken(ledger.TokenInfo{Standard: tokens.QSR, Symbol: "QSR", Name: "Quasar", Decimals: tokenDecimals})

	for name, key := range accountKeys {
		svc, err := htlc.NewService(testutil.Signer(key), h.node, htlc.DefaultConfig(),
			htlc.WithLogger(h.logger),
			htlc.WithRequestIDs(htlc.NewFixedGenerator(name+"-request")))
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", name, err)
		}
		h.services[name] = svc
	}

	for name, balances := range scenario.Accounts {
		addr := h.services[name].Address()
		for alias, display := range balances {
			amount, err := tokens.ParseAmount(display, tokenDecimals)
			if err != nil {
				return nil, fmt.Errorf("accounts.%s.%s: %w", name, alias, err)
			}
			h.node.SetBalance(addr, tokens.ResolveStandard(alias), amount)
		}
	}
	return h, nil
}

// executeSetup runs setup steps. They are not traced and must succeed.
func (h *Harness) executeSetup(ctx context.Context, setup []FlowStep) error {
	for i, step := range setup {
		outputCase, _, err := h.execute(ctx, step)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if outputCase != CaseSuccess {
			return fmt.Errorf("setup step %d: %s completed with %s", i, step.Invoke, outputCase)
		}
		h.logger.Info("setup step completed", "step", i, "action", step.Invoke)
	}
	return nil
}

// executeFlow runs flow steps, traces them and validates expect clauses.
//
// A step without an expect clause must complete with Success. A mismatch is
// recorded as a result error and the flow continues, so one run reports
// every divergence.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		invSeq := h.clock.Next()
		result.AddInvocationTrace(step.Invoke, step.As, step.Args, invSeq)

		outputCase, out, err := h.execute(ctx, step)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}

		compSeq := h.clock.Next()
		var traceResult interface{}
		if len(out) > 0 {
			traceResult = out
		}
		result.AddCompletionTrace(outputCase, traceResult, compSeq)

		expected := &ExpectClause{Case: CaseSuccess}
		if step.Expect != nil {
			expected = step.Expect
		}
		if outputCase != expected.Case {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected case %s, got %s", i, step.Invoke, expected.Case, outputCase))
		} else if !matchArgs(out, expected.Result) {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected result %v, got %v", i, step.Invoke, expected.Result, out))
		}

		h.logger.Info("flow step completed",
			"step", i,
			"action", step.Invoke,
			"as", step.As,
			"output_case", outputCase,
		)
	}
	return nil
}

// execute runs one step. Operation failures are reported as the output
// case; the returned error means the step itself is malformed.
func (h *Harness) execute(ctx context.Context, step FlowStep) (string, map[string]interface{}, error) {
	svc := h.services[step.As]
	args := step.Args

	switch step.Invoke {
	case ActionCreate:
		return h.create(ctx, svc, step)

	case ActionReclaim:
		id, err := h.argID(args, "id")
		if err != nil {
			return "", nil, err
		}
		_, opErr := svc.Reclaim(ctx, id)
		return outcome(opErr), map[string]interface{}{"id": h.nameOf(id)}, nil

	case ActionUnlock:
		id, err := h.argID(args, "id")
		if err != nil {
			return "", nil, err
		}
		s, err := argString(args, "preimage")
		if err != nil {
			return "", nil, err
		}
		preimage, opErr := hashlock.DecodePreimage(s)
		if opErr == nil {
			_, opErr = svc.Unlock(ctx, id, preimage)
		}
		return outcome(opErr), map[string]interface{}{"id": h.nameOf(id)}, nil

	case ActionAllowProxyUnlock, ActionDenyProxyUnlock:
		update := svc.AllowProxyUnlock
		if step.Invoke == ActionDenyProxyUnlock {
			update = svc.DenyProxyUnlock
		}
		_, opErr := update(ctx)
		return outcome(opErr), nil, nil

	case ActionAdvance:
		seconds, err := argInt(args, "seconds")
		if err != nil {
			return "", nil, err
		}
		if seconds < 0 {
			return "", nil, fmt.Errorf("advance: seconds must be non-negative")
		}
		h.node.SetTime(h.node.Now() + seconds)
		return CaseSuccess, map[string]interface{}{"now": h.node.Now()}, nil

	case ActionFailSubmit:
		times, err := argInt(args, "times")
		if err != nil {
			return "", nil, err
		}
		h.node.FailSubmit(int(times), nil)
		return CaseSuccess, nil, nil

	case ActionMonitor:
		return h.monitor(ctx, svc, args)
	}
	return "", nil, fmt.Errorf("unknown action %q", step.Invoke)
}

func (h *Harness) create(ctx context.Context, svc *htlc.Service, step FlowStep) (string, map[string]interface{}, error) {
	args := step.Args
	p := htlc.CreateParams{}

	target, err := argString(args, "hash_locked")
	if err != nil {
		return "", nil, err
	}
	if p.HashLocked, err = h.address(target); err != nil {
		return "", nil, err
	}

	decimals := uint8(tokenDecimals)
	if alias, ok := args["token"]; ok {
		p.TokenStandard = tokens.ResolveStandard(fmt.Sprint(alias))
		info, err := h.node.GetTokenInfo(ctx, p.TokenStandard)
		if err != nil {
			return "", nil, err
		}
		if info != nil {
			decimals = info.Decimals
		}
	}

	amount, err := argString(args, "amount")
	if err != nil {
		return "", nil, err
	}
	if p.Amount, err = tokens.ParseAmount(amount, decimals); err != nil {
		return outcome(err), nil, nil
	}

	if p.Duration, err = argDuration(args, "duration"); err != nil {
		return "", nil, err
	}

	p.HashType = hashlock.Sha3_256
	if s, ok := args["hash_type"]; ok {
		if p.HashType, err = hashlock.ParseHashType(fmt.Sprint(s)); err != nil {
			return outcome(err), nil, nil
		}
	}

	if s, ok := args["preimage"]; ok {
		preimage, err := hashlock.DecodePreimage(fmt.Sprint(s))
		if err != nil {
			return outcome(err), nil, nil
		}
		lock, err := hashlock.Digest(preimage, p.HashType)
		if err != nil {
			return outcome(err), nil, nil
		}
		p.HashLock = lock.Bytes()
	}
	if s, ok := args["hash_lock"]; ok {
		lock, err := hashlock.ParseHashLock(fmt.Sprint(s), p.HashType)
		if err != nil {
			return outcome(err), nil, nil
		}
		p.HashLock = lock.Bytes()
	}
	if _, ok := args["preimage_length"]; ok {
		n, err := argInt(args, "preimage_length")
		if err != nil {
			return "", nil, err
		}
		p.PreimageLength = int(n)
	}

	res, opErr := svc.Create(ctx, p)
	if opErr != nil {
		return outcome(opErr), nil, nil
	}

	e := res.Entry
	if step.Save != "" {
		h.ids[step.Save] = e.ID
		h.names[e.ID] = step.Save
	}
	out := map[string]interface{}{
		"id":              h.nameOf(e.ID),
		"amount":          e.Amount.String(),
		"expiration_time": e.ExpirationTime,
		"hash_type":       e.HashLock.Type.String(),
	}
	if res.Preimage != nil {
		out["generated_preimage_length"] = len(res.Preimage)
	}
	return CaseSuccess, out, nil
}

// monitor runs reconciliation cycles as the acting account. Events are
// collected after every cycle; the last event per id wins.
func (h *Harness) monitor(ctx context.Context, svc *htlc.Service, args map[string]interface{}) (string, map[string]interface{}, error) {
	raw, ok := args["ids"].([]interface{})
	if !ok || len(raw) == 0 {
		return "", nil, fmt.Errorf("monitor: ids must be a non-empty list")
	}
	ids := make([]ledger.Hash, 0, len(raw))
	for _, v := range raw {
		id, err := h.resolveID(fmt.Sprint(v))
		if err != nil {
			return "", nil, err
		}
		ids = append(ids, id)
	}
	cycles := int64(1)
	if _, ok := args["cycles"]; ok {
		n, err := argInt(args, "cycles")
		if err != nil {
			return "", nil, err
		}
		cycles = n
	}

	m := monitor.New(svc, h.node, ids,
		monitor.WithLogger(h.logger),
		monitor.WithRunID(h.runID))
	if err := m.Attach(ctx); err != nil {
		return outcome(err), nil, nil
	}
	defer m.Close()

	outcomes := map[string]interface{}{}
	for range cycles {
		done := m.Cycle(ctx)
		h.collect(m.Events(), outcomes)
		if done {
			break
		}
	}

	return CaseSuccess, map[string]interface{}{
		"outcomes": outcomes,
		"tracked":  m.Tracked(),
	}, nil
}

// collect drains the events buffered so far.
func (h *Harness) collect(events <-chan monitor.Event, into map[string]interface{}) {
	for {
		select {
		case ev := <-events:
			s := string(ev.Outcome)
			if ev.Err != nil {
				s += ":" + outcome(ev.Err)
			}
			into[h.nameOf(ev.ID)] = s
		default:
			return
		}
	}
}

// outcome maps an operation error to an output case.
func outcome(err error) string {
	if err == nil {
		return CaseSuccess
	}
	if code := htlcerr.CodeOf(err); code != "" {
		return string(code)
	}
	return CaseError
}

// nameOf returns the saved name of id, or its hex form.
func (h *Harness) nameOf(id ledger.Hash) string {
	if name, ok := h.names[id]; ok {
		return name
	}
	return id.Hex()
}

// resolveID accepts a saved name or a hex id.
func (h *Harness) resolveID(s string) (ledger.Hash, error) {
	if id, ok := h.ids[s]; ok {
		return id, nil
	}
	if len(s) == 2+2*common.HashLength && strings.HasPrefix(s, "0x") {
		return common.HexToHash(s), nil
	}
	return ledger.Hash{}, fmt.Errorf("unknown htlc %q", s)
}

// address accepts an account name or a hex address.
func (h *Harness) address(s string) (ledger.Address, error) {
	if svc, ok := h.services[s]; ok {
		return svc.Address(), nil
	}
	if common.IsHexAddress(s) {
		return common.HexToAddress(s), nil
	}
	return ledger.Address{}, fmt.Errorf("unknown account %q", s)
}

// accountName returns the account owning addr, or its hex form.
func (h *Harness) accountName(addr ledger.Address) string {
	names := make([]string, 0, len(h.services))
	for name := range h.services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if h.services[name].Address() == addr {
			return name
		}
	}
	return addr.Hex()
}

func (h *Harness) argID(args map[string]interface{}, key string) (ledger.Hash, error) {
	s, err := argString(args, key)
	if err != nil {
		return ledger.Hash{}, err
	}
	return h.resolveID(s)
}

func argString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing arg %q", key)
	}
	return fmt.Sprint(v), nil
}

// argInt reads an integer arg. YAML may decode numbers as int, uint64 or float64.
func argInt(args map[string]interface{}, key string) (int64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing arg %q", key)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), nil
		}
	}
	return 0, fmt.Errorf("arg %q: %v is not an integer", key, v)
}

// argDuration reads a Go duration string or whole seconds.
func argDuration(args map[string]interface{}, key string) (time.Duration, error) {
	if s, ok := args[key].(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("arg %q: %w", key, err)
		}
		return d, nil
	}
	n, err := argInt(args, key)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

// balance returns addr's balance of token in display units.
func (h *Harness) balance(ctx context.Context, addr ledger.Address, token ledger.TokenStandard) (string, error) {
	bal, err := h.node.GetBalance(ctx, addr, token)
	if err != nil {
		return "", err
	}
	if bal == nil {
		bal = new(big.Int)
	}
	return tokens.FormatAmount(bal, tokenDecimals), nil
}
