// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "strings"

// Severity is the categorical CVE severity reported by the feed.
type Severity string

const (
	SeverityLow       Severity = "low"
	SeverityModerate  Severity = "moderate"
	SeverityImportant Severity = "important"
	SeverityCritical  Severity = "critical"
)

// ParseSeverity normalizes a feed label. Unknown labels are kept verbatim in
// lower case so no information is lost.
func ParseSeverity(label string) Severity {
	return Severity(strings.ToLower(strings.TrimSpace(label)))
}

// Rank orders severities for sorting; unknown labels rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityImportant:
		return 3
	case SeverityModerate:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// PatchPriority classifies a system by the number of pending updates.
type PatchPriority string

const (
	PriorityLow    PatchPriority = "low"
	PriorityMedium PatchPriority = "medium"
	PriorityHigh   PatchPriority = "high"
)

const (
	priorityMediumAbove = 10
	priorityHighAbove   = 30
)

// PriorityFor returns the patch priority for a pending update count.
func PriorityFor(pending int) PatchPriority {
	switch {
	case pending > priorityHighAbove:
		return PriorityHigh
	case pending > priorityMediumAbove:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
