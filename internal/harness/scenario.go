package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/effectcore/effect"
	"github.com/roach88/effectcore/internal/ir"
)

// Scenario is one end-to-end run: an initial state, effects submitted in
// order, and assertions over the resulting log and state.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Task is the task id for steps that do not set their own. Empty means
	// "task-default".
	Task string `yaml:"task,omitempty"`

	// Initial seeds resource state. Values follow the canonical value rules:
	// no floats.
	Initial map[string]any `yaml:"initial,omitempty"`

	// Capabilities granted to every step. Empty grants what each step's
	// effect requires.
	Capabilities []string `yaml:"capabilities,omitempty"`

	SharedObserve bool `yaml:"shared_observe,omitempty"`
	MaxDepth      int  `yaml:"max_depth,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step submits one effect.
type Step struct {
	// Effect is the kind name, e.g. "Transfer".
	Effect string         `yaml:"effect"`
	Args   map[string]any `yaml:"args"`
	Task   string         `yaml:"task,omitempty"`
	// Expect checks the outcome. Nil accepts any outcome.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause describes the expected outcome of a step.
type ExpectClause struct {
	// Status is "success" or "failure".
	Status string `yaml:"status"`
	// Error is the expected ErrorKind for failures.
	Error string `yaml:"error,omitempty"`
	// Value is compared with the success value; objects match as subsets.
	Value any `yaml:"value,omitempty"`
}

// Assertion validates the final trace or state.
type Assertion struct {
	Type     string   `yaml:"type"`
	Kind     string   `yaml:"kind,omitempty"`
	Kinds    []string `yaml:"kinds,omitempty"`
	Count    int      `yaml:"count,omitempty"`
	Resource string   `yaml:"resource,omitempty"`
	Expect   any      `yaml:"expect,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertReplay        = "replay"
)

// LoadScenario reads and parses a scenario file. Unknown fields are errors
// so typos such as "assertion:" surface immediately.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be non-negative")
	}
	if _, err := initialValues(s.Initial); err != nil {
		return fmt.Errorf("initial: %w", err)
	}

	for i, step := range s.Steps {
		if step.Effect == "" {
			return fmt.Errorf("steps[%d]: effect is required", i)
		}
		if _, err := effect.ParseKind(step.Effect); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Args == nil {
			return fmt.Errorf("steps[%d]: args is required", i)
		}
		if step.Expect != nil {
			switch effect.Status(step.Expect.Status) {
			case effect.StatusSuccess, effect.StatusFailure:
			default:
				return fmt.Errorf("steps[%d].expect: status must be success or failure, got %q", i, step.Expect.Status)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Resource == "" {
			return fmt.Errorf("assertions[%d]: resource is required for final_state", index)
		}
	case AssertReplay:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func initialValues(raw map[string]any) (map[effect.ResourceID]ir.Value, error) {
	out := make(map[effect.ResourceID]ir.Value, len(raw))
	for k, v := range raw {
		iv, err := ir.FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[effect.ResourceID(k)] = iv
	}
	return out, nil
}

// build turns a step into an effect.
func (s Step) build() (effect.Effect, error) {
	kind, err := effect.ParseKind(s.Effect)
	if err != nil {
		return nil, err
	}
	v, err := ir.FromGo(s.Args)
	if err != nil {
		return nil, fmt.Errorf("args: %w", err)
	}
	return effect.Decode(kind, v.(ir.Object))
}
