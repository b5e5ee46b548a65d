// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package parser

import "strings"

// ParseLiveness reads `mco ping` output and returns the responding hosts in
// response order. Parsing stops at the first blank line; the statistics
// footer that follows it is ignored.
func ParseLiveness(out string) ([]string, error) {
	var hosts []string
	seen := make(map[string]bool)

	for i, line := range splitLines(out) {
		if isBlank(line) {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, syntaxErr("liveness", i+1, "expected hostname followed by timing data, got %q", strings.TrimSpace(line))
		}
		host := fields[0]
		if seen[host] {
			return nil, syntaxErr("liveness", i+1, "host %q answered twice", host)
		}
		seen[host] = true
		hosts = append(hosts, host)
	}
	return hosts, nil
}
