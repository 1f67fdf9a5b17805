package tracker

import (
	"fmt"
	"strings"
)

// JiraState is a Jira status with the resolution it implies ("" for none).
type JiraState struct {
	Status     string
	Resolution string
}

// StateRule maps one Linear state to a Jira status/resolution pair.
type StateRule struct {
	Linear     string `yaml:"linear" mapstructure:"linear"`
	Status     string `yaml:"status" mapstructure:"status"`
	Resolution string `yaml:"resolution" mapstructure:"resolution"`
}

// ReverseRule maps a Jira status (and optionally a resolution) back to a
// Linear state. An empty Resolution matches any resolution.
type ReverseRule struct {
	Status     string `yaml:"status" mapstructure:"status"`
	Resolution string `yaml:"resolution" mapstructure:"resolution"`
	Linear     string `yaml:"linear" mapstructure:"linear"`
}

// Linear state types, used when a team renames its workflow states.
var linearTypeStates = map[string]string{
	"triage":    "Triage",
	"backlog":   "Backlog",
	"unstarted": "Todo",
	"started":   "In Progress",
	"completed": "Done",
	"canceled":  "Canceled",
}

// DefaultStateRules is the built-in A→B mapping.
var DefaultStateRules = []StateRule{
	{Linear: "Triage", Status: "To Do"},
	{Linear: "Backlog", Status: "To Do"},
	{Linear: "Todo", Status: "To Do"},
	{Linear: "In Progress", Status: "In Progress"},
	{Linear: "In Review", Status: "In Review"},
	{Linear: "Done", Status: "Done", Resolution: "Done"},
	{Linear: "Canceled", Status: "Done", Resolution: "Won't Do"},
	{Linear: "Duplicate", Status: "Done", Resolution: "Duplicate"},
}

// DefaultReverseRules is the built-in B→A mapping. Exact resolution matches
// win over the wildcard rule for the same status.
var DefaultReverseRules = []ReverseRule{
	{Status: "To Do", Linear: "Todo"},
	{Status: "In Progress", Linear: "In Progress"},
	{Status: "In Review", Linear: "In Review"},
	{Status: "Done", Resolution: "Won't Do", Linear: "Canceled"},
	{Status: "Done", Resolution: "Duplicate", Linear: "Duplicate"},
	{Status: "Done", Linear: "Done"},
}

// StateMap is a total, deterministic mapping in both directions.
type StateMap struct {
	names   map[string]string // lower linear name -> canonical name
	toJira  map[string]JiraState
	reverse []ReverseRule
	order   []string
}

// DefaultStateMap returns the built-in mapping.
func DefaultStateMap() *StateMap {
	m, err := NewStateMap(nil, nil)
	if err != nil {
		panic(err)
	}
	return m
}

// NewStateMap merges the given rules over the defaults and checks that every
// Linear state survives a round trip.
func NewStateMap(rules []StateRule, reverse []ReverseRule) (*StateMap, error) {
	m := &StateMap{
		names:  make(map[string]string),
		toJira: make(map[string]JiraState),
	}
	for _, r := range append(append([]StateRule{}, DefaultStateRules...), rules...) {
		if r.Linear == "" || r.Status == "" {
			return nil, fmt.Errorf("state rule %+v: linear and status are required", r)
		}
		key := strings.ToLower(r.Linear)
		if _, ok := m.names[key]; !ok {
			m.order = append(m.order, r.Linear)
		}
		m.names[key] = r.Linear
		m.toJira[key] = JiraState{Status: r.Status, Resolution: r.Resolution}
	}

	// Overrides go first so they shadow the defaults.
	m.reverse = append(append([]ReverseRule{}, reverse...), DefaultReverseRules...)
	for _, r := range m.reverse {
		if _, ok := m.names[strings.ToLower(r.Linear)]; !ok {
			return nil, fmt.Errorf("reverse rule %s/%s targets unknown Linear state %q", r.Status, r.Resolution, r.Linear)
		}
	}

	for _, name := range m.order {
		js := m.toJira[strings.ToLower(name)]
		if _, ok := m.ToLinear(js.Status, js.Resolution); !ok {
			return nil, fmt.Errorf("linear state %q maps to %s/%s which has no reverse rule", name, js.Status, js.Resolution)
		}
	}
	return m, nil
}

// LinearStates lists the Linear vocabulary in rule order.
func (m *StateMap) LinearStates() []string {
	return append([]string(nil), m.order...)
}

// Canonical returns the vocabulary spelling of a Linear state name.
func (m *StateMap) Canonical(name string) (string, bool) {
	c, ok := m.names[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// NormalizeLinear maps a Linear workflow state to the vocabulary, by name
// and then by state type.
func (m *StateMap) NormalizeLinear(name, stateType string) (string, bool) {
	if c, ok := m.Canonical(name); ok {
		return c, true
	}
	if c, ok := linearTypeStates[strings.ToLower(stateType)]; ok {
		return m.Canonical(c)
	}
	return "", false
}

// LinearType returns the Linear state type a canonical state belongs to.
func (m *StateMap) LinearType(name string) string {
	c, ok := m.Canonical(name)
	if !ok {
		return ""
	}
	for t, n := range linearTypeStates {
		if n == c {
			return t
		}
	}
	js := m.toJira[strings.ToLower(c)]
	switch {
	case js.Resolution != "" && js.Resolution != "Done":
		return "canceled"
	case js.Resolution != "":
		return "completed"
	case strings.EqualFold(js.Status, "To Do"):
		return "unstarted"
	default:
		return "started"
	}
}

// ToJira maps a Linear state to its Jira status and resolution.
func (m *StateMap) ToJira(linear string) (JiraState, bool) {
	js, ok := m.toJira[strings.ToLower(strings.TrimSpace(linear))]
	return js, ok
}

// ToLinear maps a Jira status/resolution pair to a Linear state.
func (m *StateMap) ToLinear(status, resolution string) (string, bool) {
	var wildcard string
	for _, r := range m.reverse {
		if !strings.EqualFold(r.Status, status) {
			continue
		}
		if r.Resolution == "" {
			if wildcard == "" {
				wildcard = r.Linear
			}
			continue
		}
		if strings.EqualFold(r.Resolution, resolution) {
			return m.names[strings.ToLower(r.Linear)], true
		}
	}
	if wildcard != "" {
		return m.names[strings.ToLower(wildcard)], true
	}
	return "", false
}

// KnowsStatus reports whether a Jira status name is representable in the
// Linear vocabulary.
func (m *StateMap) KnowsStatus(status string) bool {
	for _, r := range m.reverse {
		if strings.EqualFold(r.Status, status) {
			return true
		}
	}
	return false
}

// Equivalent reports whether a Linear state and a Jira status/resolution
// pair denote the same state after a round trip. Backlog and To Do are
// equivalent even though To Do maps back to Todo.
func (m *StateMap) Equivalent(linear, status, resolution string) bool {
	js, ok := m.ToJira(linear)
	if !ok {
		return false
	}
	viaA, ok := m.ToLinear(js.Status, js.Resolution)
	if !ok {
		return false
	}
	viaB, ok := m.ToLinear(status, resolution)
	if !ok {
		return false
	}
	return viaA == viaB
}
