// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package parser

import "strings"

// OSInfo holds the release facts of one host.
type OSInfo struct {
	Name    string // PRETTY_NAME
	Version string // VERSION
	Kernel  string // `uname -msr`, the last line of the block
}

// colonHeader matches a `<hostname>:` line.
func colonHeader(line string) string {
	line = strings.TrimSpace(line)
	if !strings.HasSuffix(line, ":") || strings.ContainsAny(line, " \t") {
		return ""
	}
	return strings.TrimSuffix(line, ":")
}

// ParseReleaseInfo reads the output of the release probe for the given live
// hosts. Every live host must have a block.
func ParseReleaseInfo(out string, live []string) (map[string]OSInfo, error) {
	blocks, err := scanBlocks(splitLines(out), live, blockGrammar{
		output: "release info",
		header: colonHeader,
	})
	if err != nil {
		return nil, err
	}

	info := make(map[string]OSInfo, len(blocks))
	for _, b := range blocks {
		if len(b.Lines) == 0 {
			return nil, syntaxErr("release info", b.Line, "empty block for host %q", b.Host)
		}
		var facts OSInfo
		for _, line := range b.Lines {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "PRETTY_NAME="):
				facts.Name = unquote(strings.TrimPrefix(line, "PRETTY_NAME="))
			case strings.HasPrefix(line, "VERSION="):
				facts.Version = unquote(strings.TrimPrefix(line, "VERSION="))
			}
		}
		facts.Kernel = strings.TrimSpace(b.Lines[len(b.Lines)-1])
		info[b.Host] = facts
	}
	return info, nil
}

func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
