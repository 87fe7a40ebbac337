package model

import "time"

// Finding is the recorded outcome of checking one rule against one domain.
// Findings are keyed by (Domain, RuleName); a later check replaces an earlier one.
type Finding struct {
	// Domain is the domain as it appeared in the input list.
	Domain string `json:"domain"`

	// RuleName identifies the rule that was evaluated.
	RuleName string `json:"rule_name"`

	// MatchedPath is the rule path that was requested.
	MatchedPath string `json:"matched_path"`

	// Detected reports whether the path existed and its body carried the signature.
	Detected bool `json:"detected"`

	// ScannedAt is when the check completed.
	ScannedAt time.Time `json:"scanned_at"`
}

// Key returns the upsert key of the finding.
func (f Finding) Key() string {
	return f.Domain + "\x00" + f.RuleName
}
