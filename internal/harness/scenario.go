package harness

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines an HTLC lifecycle scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the frontier momentum timestamp the node starts at. Zero means
	// DefaultNow.
	Now int64 `yaml:"now,omitempty"`

	// Accounts funds the named accounts. Keys are account names, values map
	// a token alias (znn, qsr) to a display amount.
	Accounts map[string]map[string]string `yaml:"accounts,omitempty"`

	// Setup contains steps run before the flow. They are not traced and any
	// failure aborts the run.
	Setup []FlowStep `yaml:"setup,omitempty"`

	// Flow contains the traced steps, each optionally with an expected result.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and node state.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one operation in a scenario.
type FlowStep struct {
	// As names the account performing the step. Required for every action
	// except advance and fail_submit.
	As string `yaml:"as,omitempty"`

	// Invoke is the action name.
	Invoke string `yaml:"invoke"`

	// Args contains the action arguments.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Save names the HTLC a create step produces, for later steps.
	Save string `yaml:"save,omitempty"`

	// Expect specifies the expected completion. If nil the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected completion behavior.
type ExpectClause struct {
	// Case is the expected output case: Success, an htlcerr code, or Error.
	Case string `yaml:"case"`

	// Result contains expected result field values (subset match).
	Result map[string]interface{} `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final node state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Action is the action name (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are the expected action arguments (trace_contains, subset match).
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// HTLC names a saved HTLC (final_state).
	HTLC string `yaml:"htlc,omitempty"`

	// Account names an account (final_state).
	Account string `yaml:"account,omitempty"`

	// Expect contains expected field values (final_state, subset match).
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Action names.
const (
	ActionCreate           = "create"
	ActionReclaim          = "reclaim"
	ActionUnlock           = "unlock"
	ActionAllowProxyUnlock = "allow_proxy_unlock"
	ActionDenyProxyUnlock  = "deny_proxy_unlock"
	ActionAdvance          = "advance"
	ActionFailSubmit       = "fail_submit"
	ActionMonitor          = "monitor"
)

// actionNeedsAccount lists the known actions and whether they run as an account.
var actionNeedsAccount = map[string]bool{
	ActionCreate:           true,
	ActionReclaim:          true,
	ActionUnlock:           true,
	ActionAllowProxyUnlock: true,
	ActionDenyProxyUnlock:  true,
	ActionAdvance:          false,
	ActionFailSubmit:       false,
	ActionMonitor:          true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := make([]string, 0, len(s.Accounts))
	for name := range s.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := accountKeys[name]; !ok {
			return fmt.Errorf("accounts: unknown account %q", name)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, step FlowStep) error {
	if step.Invoke == "" {
		return fmt.Errorf("%s: invoke is required", where)
	}
	needsAccount, known := actionNeedsAccount[step.Invoke]
	if !known {
		return fmt.Errorf("%s: unknown action %q", where, step.Invoke)
	}
	if needsAccount && step.As == "" {
		return fmt.Errorf("%s: as is required for %s", where, step.Invoke)
	}
	if step.As != "" {
		if _, ok := accountKeys[step.As]; !ok {
			return fmt.Errorf("%s: unknown account %q", where, step.As)
		}
	}
	if step.Save != "" && step.Invoke != ActionCreate {
		return fmt.Errorf("%s: save is only valid on create", where)
	}
	if step.Expect != nil && step.Expect.Case == "" {
		return fmt.Errorf("%s.expect: case is required", where)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if (a.HTLC == "") == (a.Account == "") {
			return fmt.Errorf("assertions[%d]: exactly one of htlc or account is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
