package rules

import (
	"fmt"
	"sync"

	"ipreputation/internal/models"
)

// geoAttributes is the closed set of validated geographical attributes.
var geoAttributes = map[string]struct{}{
	"country":        {},
	"country_code":   {},
	"city":           {},
	"continent":      {},
	"continent_code": {},
	"region":         {},
	"region_code":    {},
	"latitude":       {},
	"longitude":      {},
	"is_eu":          {},
}

// connectionAttributes are the accepted connection-derived fact names.
// They are pass-through: accepted by name, no value typing beyond the
// generic scalar check.
var connectionAttributes = map[string]struct{}{
	"isp":             {},
	"org":             {},
	"asn":             {},
	"connection_type": {},
	"domain":          {},
}

// KnownAttribute reports whether attr is scoreable. Anything outside
// the geo set and the connection set fails rule validation.
func KnownAttribute(attr string) bool {
	if _, ok := geoAttributes[attr]; ok {
		return true
	}
	_, ok := connectionAttributes[attr]
	return ok
}

// PointRule awards Points when its Attribute matches the fact map.
// Value nil means "match on presence alone"; a list value matches any
// of its elements. Points range is [-100, 100]: penalty rules are
// supported, this is the single active convention.
type PointRule struct {
	Attribute   string                 `json:"attribute"`
	Value       interface{}            `json:"value,omitempty"`
	Points      int                    `json:"points"`
	Description string                 `json:"description,omitempty"`
	Conditions  map[string]interface{} `json:"conditions,omitempty"`
}

// Validate enforces construction-time constraints. Violations surface
// here, never at evaluation time.
func (r *PointRule) Validate() error {
	if !KnownAttribute(r.Attribute) {
		return fmt.Errorf("%w: unknown attribute %q", models.ErrValidation, r.Attribute)
	}
	if r.Points < -100 || r.Points > 100 {
		return fmt.Errorf("%w: points must be in [-100, 100], got %d", models.ErrValidation, r.Points)
	}
	if r.Attribute == "latitude" || r.Attribute == "longitude" {
		if err := r.validateCoordinate(); err != nil {
			return err
		}
	}
	for attr := range r.Conditions {
		if !KnownAttribute(attr) {
			return fmt.Errorf("%w: unknown condition attribute %q", models.ErrValidation, attr)
		}
	}
	return nil
}

func (r *PointRule) validateCoordinate() error {
	if r.Value == nil {
		return nil
	}
	values := []interface{}{r.Value}
	if list, ok := r.Value.([]interface{}); ok {
		values = list
	}
	limit := 90.0
	if r.Attribute == "longitude" {
		limit = 180.0
	}
	for _, v := range values {
		f, ok := asFloat(v)
		if !ok {
			return fmt.Errorf("%w: %s value must be numeric", models.ErrValidation, r.Attribute)
		}
		if f < -limit || f > limit {
			return fmt.Errorf("%w: %s must be between %v and %v", models.ErrValidation, r.Attribute, -limit, limit)
		}
	}
	return nil
}

// matches reports whether the rule fires against facts: the primary
// attribute must be present and equal (or merely present when Value is
// nil), and every auxiliary condition must hold.
func (r *PointRule) matches(facts map[string]interface{}) bool {
	fact, ok := facts[r.Attribute]
	if !ok {
		return false
	}
	if r.Value != nil && !valueMatches(r.Value, fact) {
		return false
	}
	for attr, want := range r.Conditions {
		got, ok := facts[attr]
		if !ok || !scalarEqual(want, got) {
			return false
		}
	}
	return true
}

func valueMatches(ruleValue, fact interface{}) bool {
	if list, ok := ruleValue.([]interface{}); ok {
		for _, v := range list {
			if scalarEqual(v, fact) {
				return true
			}
		}
		return false
	}
	return scalarEqual(ruleValue, fact)
}

// scalarEqual compares without cross-type coercion, except that all
// numeric kinds compare as one family (JSON decodes numbers as float64
// while facts carry native ints and uints).
func scalarEqual(a, b interface{}) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	return a == b
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Group is a named, ordered collection of rules.
type Group struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Rules       []PointRule `json:"rules"`
}

// Result is one evaluation outcome. Breakdown records the contribution
// under each rule attribute; when several rules hit the same attribute
// the last rule in evaluation order owns the slot, but every hit still
// sums into Total.
type Result struct {
	Total     int            `json:"total"`
	Breakdown map[string]int `json:"breakdown"`
	Factors   []string       `json:"factors"`
}

// System owns the ungrouped rules and the named groups. It is the unit
// of persistence and of evaluation. Structural mutation takes the write
// lock; evaluation runs under the read lock and never mutates state.
type System struct {
	mu     sync.RWMutex
	rules  []PointRule
	groups map[string]*Group
	order  []string
}

func NewSystem() *System {
	return &System{
		groups: make(map[string]*Group),
	}
}

// AddRule validates and appends an ungrouped rule.
func (s *System) AddRule(rule PointRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
	return nil
}

// CreateGroup registers a new empty group. Duplicate names fail.
func (s *System) CreateGroup(name, description string) (*Group, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: group name must not be empty", models.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.groups[name]; exists {
		return nil, fmt.Errorf("%w: group %q already exists", models.ErrValidation, name)
	}
	g := &Group{Name: name, Description: description}
	s.groups[name] = g
	s.order = append(s.order, name)
	return g, nil
}

// AddToGroup validates and appends a rule to an existing group.
func (s *System) AddToGroup(name string, rule PointRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		return fmt.Errorf("%w: group %q", models.ErrNotFound, name)
	}
	g.Rules = append(g.Rules, rule)
	return nil
}

// Rules returns a copy of the ungrouped rules in insertion order.
func (s *System) Rules() []PointRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PointRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Groups returns copies of the groups in creation order. Returning
// copies keeps the live rule slices behind the lock; callers may hold
// the result across concurrent AddToGroup calls.
func (s *System) Groups() []*Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Group, 0, len(s.order))
	for _, name := range s.order {
		g := s.groups[name]
		cp := &Group{Name: g.Name, Description: g.Description, Rules: make([]PointRule, len(g.Rules))}
		copy(cp.Rules, g.Rules)
		out = append(out, cp)
	}
	return out
}

// Evaluate runs every rule against facts: ungrouped rules first in
// insertion order, then each group's rules in group creation order.
// A rule that does not match contributes zero; no match is not an error.
func (s *System) Evaluate(facts map[string]interface{}) Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := Result{
		Breakdown: make(map[string]int),
		Factors:   []string{},
	}
	apply := func(rule *PointRule) {
		if !rule.matches(facts) {
			return
		}
		res.Total += rule.Points
		res.Breakdown[rule.Attribute] = rule.Points
		factor := rule.Description
		if factor == "" {
			factor = rule.Attribute + " match"
		}
		res.Factors = append(res.Factors, factor)
	}

	for i := range s.rules {
		apply(&s.rules[i])
	}
	for _, name := range s.order {
		g := s.groups[name]
		for i := range g.Rules {
			apply(&g.Rules[i])
		}
	}
	return res
}
