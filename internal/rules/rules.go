package rules

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownSeverity = errors.New("unknown severity")
	ErrInvalidRule     = errors.New("invalid rule")
)

// Severity ranks rules. The zero value means the rule declares no severity.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityInfo
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// ParseSeverity maps a case-insensitive severity name to a Severity.
// An empty string is SeverityNone.
func ParseSeverity(s string) (Severity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SeverityNone, nil
	}
	for sev, name := range severityNames {
		if name == s {
			return sev, nil
		}
	}
	return SeverityNone, fmt.Errorf("%w: %q", ErrUnknownSeverity, s)
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return ""
}

// IsSet reports whether the rule declared a severity.
func (s Severity) IsSet() bool { return s != SeverityNone }

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	sev, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

func (s Severity) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s *Severity) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	sev, err := ParseSeverity(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = sev
	return nil
}

// Rule describes one path to request and the body signature that marks it exposed.
type Rule struct {
	Name        string   `yaml:"name" json:"name"`
	Path        string   `yaml:"path" json:"path"`
	Signature   string   `yaml:"signature" json:"signature"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Severity    Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// Validate checks that the fields required to run the rule are present.
func (r Rule) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("%w: missing name", ErrInvalidRule)
	case strings.TrimSpace(r.Path) == "":
		return fmt.Errorf("%w: rule %q has no path", ErrInvalidRule, r.Name)
	case r.Signature == "":
		return fmt.Errorf("%w: rule %q has no signature", ErrInvalidRule, r.Name)
	}
	return nil
}

// RuleSet is an ordered collection of rules. After loading it is read-only and
// safe to share between goroutines.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rules)
}

// SortBySeverity orders rules highest severity first. Rules without a severity
// go last; ties keep their file order.
func (rs *RuleSet) SortBySeverity() {
	sort.SliceStable(rs.Rules, func(i, j int) bool {
		return Less(rs.Rules[i], rs.Rules[j])
	})
}

// Less reports whether a sorts before b by severity.
func Less(a, b Rule) bool {
	switch {
	case a.Severity.IsSet() && b.Severity.IsSet():
		return a.Severity > b.Severity
	case a.Severity.IsSet():
		return true
	default:
		return false
	}
}

// Names returns rule names in order.
func (rs *RuleSet) Names() []string {
	out := make([]string, 0, rs.Len())
	for _, r := range rs.Rules {
		out = append(out, r.Name)
	}
	return out
}

// Find returns the rule with the given name.
func (rs *RuleSet) Find(name string) (Rule, bool) {
	for _, r := range rs.Rules {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

// Parse decodes a YAML rules document, validates every rule and sorts the set.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for _, r := range rs.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	rs.SortBySeverity()
	return &rs, nil
}

// Load reads and parses a rules file.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open rules file %s: %w", path, err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Save writes the set to path as YAML.
func Save(path string, rs *RuleSet) error {
	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("serialize rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write rules file %s: %w", path, err)
	}
	return nil
}

// AddFromFile merges the rules of source into target, skipping names target
// already has, and returns how many were added. A missing target is created.
func AddFromFile(target, source string) (int, error) {
	incoming, err := Load(source)
	if err != nil {
		return 0, err
	}
	existing, err := Load(target)
	if errors.Is(err, os.ErrNotExist) {
		existing = &RuleSet{}
	} else if err != nil {
		return 0, err
	}

	added := 0
	for _, r := range incoming.Rules {
		if _, ok := existing.Find(r.Name); ok {
			continue
		}
		existing.Rules = append(existing.Rules, r)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	existing.SortBySeverity()
	if err := Save(target, existing); err != nil {
		return 0, err
	}
	return added, nil
}

// Remove deletes the named rule from the file at path. It reports whether the
// rule was present.
func Remove(path, name string) (bool, error) {
	rs, err := Load(path)
	if err != nil {
		return false, err
	}
	kept := rs.Rules[:0]
	for _, r := range rs.Rules {
		if r.Name != name {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(rs.Rules) {
		return false, nil
	}
	rs.Rules = kept
	if err := Save(path, rs); err != nil {
		return false, err
	}
	return true, nil
}
