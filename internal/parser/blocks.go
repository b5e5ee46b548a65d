// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/toeirei/patchfleet/internal/failure"
)

// SyntaxError describes where an output stopped matching its grammar.
type SyntaxError struct {
	Output string // which command output was being parsed
	Line   int    // 1-based, 0 when not tied to a line
	Msg    string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s output line %d: %s", e.Output, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s output: %s", e.Output, e.Msg)
}

func syntaxErr(output string, line int, format string, args ...any) error {
	return failure.Parse("parse "+output+" output", &SyntaxError{
		Output: output,
		Line:   line,
		Msg:    fmt.Sprintf(format, args...),
	})
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

// splitLines normalizes line endings and terminal escapes and splits out into
// lines. A trailing newline does not produce an extra empty line.
func splitLines(out string) []string {
	out = ansiEscape.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "\n")
	out = strings.TrimSuffix(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// hostSet builds a lookup of the hosts a block header may name.
func hostSet(hosts []string) map[string]bool {
	set := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		set[h] = true
	}
	return set
}

// block is the body of one host section.
type block struct {
	Host  string
	Line  int // line number of the header
	Lines []string
}

// scanState is the block scanner state.
type scanState int

const (
	seekHostHeader scanState = iota
	inBlock
	blockDone
)

// blockGrammar configures scanBlocks for one output format.
type blockGrammar struct {
	output string
	// header returns the host named by a header line, or "".
	header func(line string) string
	// stop reports a line that ends the block early; the rest of the section
	// up to the next blank line is discarded. Optional.
	stop func(line string) bool
}

// scanBlocks walks the lines of a multi-host output:
//
//	SeekHostHeader --header(known host)--> InBlock
//	InBlock        --blank-->              SeekHostHeader
//	InBlock        --stop-->               BlockDone
//	BlockDone      --blank-->              SeekHostHeader
//
// Headers for hosts outside live are ignored. A block still open at the end
// of the output, a second block for the same host, or a live host without a
// block is a syntax error.
func scanBlocks(lines []string, live []string, g blockGrammar) ([]block, error) {
	var (
		blocks []block
		cur    *block
		state  = seekHostHeader
		known  = hostSet(live)
		seen   = make(map[string]bool)
	)

	for i, line := range lines {
		lineNo := i + 1
		switch state {
		case seekHostHeader:
			host := g.header(line)
			if host == "" || !known[host] {
				continue
			}
			if seen[host] {
				return nil, syntaxErr(g.output, lineNo, "second block for host %q", host)
			}
			seen[host] = true
			blocks = append(blocks, block{Host: host, Line: lineNo})
			cur = &blocks[len(blocks)-1]
			state = inBlock

		case inBlock:
			switch {
			case isBlank(line):
				state = seekHostHeader
				cur = nil
			case g.stop != nil && g.stop(line):
				state = blockDone
				cur = nil
			default:
				cur.Lines = append(cur.Lines, line)
			}

		case blockDone:
			if isBlank(line) {
				state = seekHostHeader
			}
		}
	}

	if state == inBlock {
		return nil, syntaxErr(g.output, len(lines), "block for host %q is not terminated", cur.Host)
	}
	for _, h := range live {
		if !seen[h] {
			return nil, syntaxErr(g.output, len(lines), "no block for live host %q", h)
		}
	}
	return blocks, nil
}
