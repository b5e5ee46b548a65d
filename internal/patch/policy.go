// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package patch

import (
	"fmt"
	"strings"
)

// Policy decides how a whole-host update reacts to a failing package.
type Policy string

const (
	// PolicyAbort stops at the first failing package and skips verification.
	PolicyAbort Policy = "abort"
	// PolicyContinue updates the remaining packages, reconciles the host and
	// then reports the failed packages.
	PolicyContinue Policy = "continue"
)

// ParsePolicy parses a configured policy. Empty selects PolicyAbort.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicyContinue:
		return PolicyContinue, nil
	}
	return "", fmt.Errorf("unknown update policy %q (want abort or continue)", s)
}
