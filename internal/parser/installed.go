// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package parser

import "strings"

// PlaceholderPrefix marks the pseudo packages the RPM database keeps for
// imported signing keys.
const PlaceholderPrefix = "gpg-pubkey"

const stderrMarker = "STDERR:"

// InstalledPackage is one `<name> <version>` line.
type InstalledPackage struct {
	Name    string
	Version string
}

// ParseInstalled reads the output of the installed-package query. A block
// ends at a blank line or at the agent's STDERR marker, after which the
// remaining error text of that host is skipped. Every live host must have a
// block, even an empty one.
func ParseInstalled(out string, live []string) (map[string][]InstalledPackage, error) {
	blocks, err := scanBlocks(splitLines(out), live, blockGrammar{
		output: "installed packages",
		header: colonHeader,
		stop: func(line string) bool {
			return strings.HasPrefix(strings.TrimSpace(line), stderrMarker)
		},
	})
	if err != nil {
		return nil, err
	}

	res := make(map[string][]InstalledPackage, len(blocks))
	for _, b := range blocks {
		pkgs := make([]InstalledPackage, 0, len(b.Lines))
		for i, line := range b.Lines {
			name, version, ok := splitNameVersion(line)
			if !ok {
				return nil, syntaxErr("installed packages", b.Line+1+i, "expected <name> <version>, got %q", strings.TrimSpace(line))
			}
			if strings.HasPrefix(name, PlaceholderPrefix) {
				continue
			}
			pkgs = append(pkgs, InstalledPackage{Name: name, Version: version})
		}
		res[b.Host] = pkgs
	}
	return res, nil
}

// splitNameVersion splits on the first whitespace run.
func splitNameVersion(line string) (name, version string, ok bool) {
	line = strings.TrimSpace(line)
	idx := strings.IndexAny(line, " \t")
	if idx <= 0 {
		return "", "", false
	}
	name = line[:idx]
	version = strings.TrimSpace(line[idx:])
	if version == "" {
		return "", "", false
	}
	return name, version, true
}
