package model

import (
	"fmt"
	"time"
)

// Progress is a point-in-time view of a running scan. Values are read from
// independent counters and are only eventually consistent with each other.
type Progress struct {
	// DomainsProcessed counts domains whose every rule has been accounted for.
	DomainsProcessed int64 `json:"domains_processed"`

	// DomainsTotal is the number of unique domains in the scan.
	DomainsTotal int64 `json:"domains_total"`

	// TasksCompleted counts (domain, rule) pairs accounted for, probed or skipped.
	TasksCompleted int64 `json:"tasks_completed"`

	// TasksTotal is DomainsTotal multiplied by the number of rules.
	TasksTotal int64 `json:"tasks_total"`

	// Matches counts detected findings.
	Matches int64 `json:"matches"`

	// Errors counts recoverable per-domain errors.
	Errors int64 `json:"errors"`
}

// Percent returns task completion as a percentage in [0, 100].
func (p Progress) Percent() float64 {
	if p.TasksTotal <= 0 {
		return 100
	}
	return float64(p.TasksCompleted) * 100 / float64(p.TasksTotal)
}

// ScanSummary is the final report of a scan.
type ScanSummary struct {
	// Domains is the number of unique domains scanned.
	Domains int `json:"domains"`

	// Resolved and Unresolved split Domains by DNS outcome.
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`

	// Checks is the number of (domain, rule) tasks accounted for.
	Checks int64 `json:"checks"`

	// Matches is the number of detected findings.
	Matches int64 `json:"matches"`

	// Errors counts recoverable per-domain errors (unresolved domains, failed writes).
	Errors int64 `json:"errors"`

	// Elapsed is the wall-clock duration of the scan.
	Elapsed time.Duration `json:"elapsed"`
}

// Throughput returns checks per second.
func (s ScanSummary) Throughput() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Checks) / secs
}

func (s ScanSummary) String() string {
	return fmt.Sprintf("domains=%d resolved=%d checks=%d matches=%d errors=%d elapsed=%s rate=%.1f/s",
		s.Domains, s.Resolved, s.Checks, s.Matches, s.Errors, s.Elapsed.Round(time.Millisecond), s.Throughput())
}
