package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/htlc/internal/tokens"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == "invocation" {
				fmt.Fprintf(&buf, "  [%d] %s %s %v\n", i+1, event.As, event.Action, event.Args)
			}
		}
	}
	return buf.String()
}

// assertTraceContains checks if the trace contains an invocation matching
// the specified action and args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == "invocation" && event.Action == assertion.Action {
			if matchArgs(event.Args, assertion.Args) {
				return nil
			}
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive, and a repeated action matches its
// next occurrence after the previous one.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, action := range assertion.Actions {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if event.Type == "invocation" && event.Action == action {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual:   fmt.Sprintf("%s not found after the preceding actions", action),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == "invocation" && event.Action == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks a saved HTLC or an account on the node against
// the expected fields (subset match).
func assertFinalState(ctx context.Context, h *Harness, assertion Assertion) error {
	var (
		subject string
		actual  map[string]interface{}
		err     error
	)
	if assertion.HTLC != "" {
		subject = "htlc " + assertion.HTLC
		actual, err = h.htlcState(ctx, assertion.HTLC)
	} else {
		subject = "account " + assertion.Account
		actual, err = h.accountState(ctx, assertion.Account, assertion.Expect)
	}
	if err != nil {
		return fmt.Errorf("final_state %s: %w", subject, err)
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := assertion.Expect[key]
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s has field %s", subject, key),
				Actual:   fmt.Sprintf("no such field (available: %s)", strings.Join(sortedKeys(actual), ", ")),
			}
		}
		if !valuesEqual(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s %s = %v", subject, key, want),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// htlcState returns the fields of a saved HTLC. A resolved entry only has
// exists=false.
func (h *Harness) htlcState(ctx context.Context, name string) (map[string]interface{}, error) {
	id, ok := h.ids[name]
	if !ok {
		return nil, fmt.Errorf("no htlc saved as %q", name)
	}
	entry, err := h.node.GetHtlcByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return map[string]interface{}{"exists": false}, nil
	}
	return map[string]interface{}{
		"exists":          true,
		"time_locked":     h.accountName(entry.TimeLocked),
		"hash_locked":     h.accountName(entry.HashLocked),
		"token":           string(entry.TokenStandard),
		"amount":          entry.Amount.String(),
		"expiration_time": entry.ExpirationTime,
		"hash_type":       entry.HashLock.Type.String(),
		"key_max_size":    int64(entry.KeyMaxSize),
	}, nil
}

// accountState returns proxy_unlock and the display balance of every token
// alias the assertion names.
func (h *Harness) accountState(ctx context.Context, name string, expect map[string]interface{}) (map[string]interface{}, error) {
	svc, ok := h.services[name]
	if !ok {
		return nil, fmt.Errorf("unknown account %q", name)
	}
	addr := svc.Address()

	allowed, err := h.node.GetProxyUnlockStatus(ctx, addr)
	if err != nil {
		return nil, err
	}
	state := map[string]interface{}{"proxy_unlock": allowed}

	for key := range expect {
		if key == "proxy_unlock" {
			continue
		}
		bal, err := h.balance(ctx, addr, tokens.ResolveStandard(key))
		if err != nil {
			return nil, err
		}
		state[key] = bal
	}
	return state, nil
}

// matchArgs checks if actual args contain all expected args (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual interface{}, expected map[string]interface{}) bool {
	if len(expected) == 0 {
		return true
	}

	actualMap, ok := actual.(map[string]interface{})
	if !ok {
		return false
	}
	for key, expectedVal := range expected {
		actualVal, exists := actualMap[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values for equality. Integers compare by value
// whatever their Go type, nested maps compare as subsets, and scalars of
// different kinds compare by their printed form so "5" matches 5.
func valuesEqual(actual, expected interface{}) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	if em, ok := expected.(map[string]interface{}); ok {
		return matchArgs(actual, em)
	}

	a, aInt := toInt64(actual)
	e, eInt := toInt64(expected)
	if aInt && eInt {
		return a == e
	}

	if reflect.DeepEqual(actual, expected) {
		return true
	}
	switch actual.(type) {
	case []interface{}, map[string]interface{}:
		return false
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides node access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Harness == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a harness", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Harness, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
