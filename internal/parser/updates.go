// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package parser

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	outdatedLabel = "Outdated Packages:"
	outputLabel   = "Output:"
	managerLabel  = "Package Manager:"
)

// Update is one outdated package reported by checkupdates.
type Update struct {
	Package string `json:"package"`
	Version string `json:"version"`
}

// HostUpdates is the checkupdates section of one host.
type HostUpdates struct {
	Updates        []Update
	PackageManager string
}

// bareHeader matches a line holding only a hostname.
func bareHeader(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.ContainsAny(line, " \t:") {
		return ""
	}
	return line
}

// ParseUpdates reads `mco rpc package checkupdates` output. Every live host
// must have a section. The package manager is captured for each of them,
// including hosts with nothing outdated.
func ParseUpdates(out string, live []string) (map[string]HostUpdates, error) {
	blocks, err := scanBlocks(splitLines(out), live, blockGrammar{
		output: "available updates",
		header: bareHeader,
	})
	if err != nil {
		return nil, err
	}

	res := make(map[string]HostUpdates, len(blocks))
	for _, b := range blocks {
		hu, err := parseUpdateSection(b)
		if err != nil {
			return nil, err
		}
		res[b.Host] = hu
	}
	return res, nil
}

func parseUpdateSection(b block) (HostUpdates, error) {
	var (
		hu        HostUpdates
		payload   strings.Builder
		inList    bool
		listFound bool
		listLine  int
	)

	for i, raw := range b.Lines {
		line := strings.TrimSpace(raw)
		lineNo := b.Line + 1 + i

		if inList {
			if strings.HasPrefix(line, outputLabel) {
				inList = false
			} else {
				payload.WriteString(line)
				payload.WriteByte('\n')
				continue
			}
		}

		switch {
		case strings.HasPrefix(line, outdatedLabel):
			if listFound {
				return hu, syntaxErr("available updates", lineNo, "second outdated list for host %q", b.Host)
			}
			listFound, inList, listLine = true, true, lineNo
			payload.WriteString(strings.TrimPrefix(line, outdatedLabel))
			payload.WriteByte('\n')
		case strings.HasPrefix(line, managerLabel):
			hu.PackageManager = strings.TrimSpace(strings.TrimPrefix(line, managerLabel))
		}
	}

	if inList {
		return hu, syntaxErr("available updates", listLine, "outdated list for host %q has no %q line", b.Host, outputLabel)
	}
	if !listFound {
		return hu, nil
	}

	records, err := decodeRecordList(payload.String())
	if err != nil {
		return hu, syntaxErr("available updates", listLine, "host %q: %v", b.Host, err)
	}
	for _, r := range records {
		if strings.HasPrefix(r.Package, PlaceholderPrefix) {
			continue
		}
		hu.Updates = append(hu.Updates, r)
	}
	return hu, nil
}

func decodeRecordList(payload string) ([]Update, error) {
	normalized, err := normalizeRecordList(payload)
	if err != nil {
		return nil, err
	}
	var records []Update
	if err := json.Unmarshal([]byte(normalized), &records); err != nil {
		return nil, fmt.Errorf("decode record list: %w", err)
	}
	for i, r := range records {
		if r.Package == "" || r.Version == "" {
			return nil, fmt.Errorf("record %d lacks package or version", i)
		}
	}
	return records, nil
}

// normalizeRecordList rewrites an inspected Ruby array of hashes into JSON:
// `:key=>` and `key:` become `"key":`, `"key"=>` becomes `"key":`, nil becomes
// null, and whitespace outside string literals is dropped.
func normalizeRecordList(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))

	last := byte(0) // last byte written outside a string literal
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			end, err := scanString(s, i)
			if err != nil {
				return "", err
			}
			b.WriteString(s[i : end+1])
			i = end
			last = '"'

		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			// dropped

		case c == '=' && i+1 < len(s) && s[i+1] == '>':
			b.WriteByte(':')
			i++
			last = ':'

		case c == ':' && i+1 < len(s) && isIdentStart(s[i+1]):
			end := identEnd(s, i+1)
			j := skipSpace(s, end)
			if strings.HasPrefix(s[j:], "=>") {
				fmt.Fprintf(&b, "%q:", s[i+1:end])
				i = j + 1
				last = ':'
				continue
			}
			if last == '{' || last == ',' {
				return "", fmt.Errorf("symbol key :%s is not followed by =>", s[i+1:end])
			}
			// symbol value
			fmt.Fprintf(&b, "%q", s[i+1:end])
			i = end - 1
			last = '"'

		case isIdentStart(c) && (last == '{' || last == ','):
			// Ruby 3.4 style `key: value`
			end := identEnd(s, i)
			if end < len(s) && s[end] == ':' {
				fmt.Fprintf(&b, "%q:", s[i:end])
				i = end
				last = ':'
				continue
			}
			return "", fmt.Errorf("unexpected bare word %q", s[i:end])

		case c == 'n' && strings.HasPrefix(s[i:], "nil") && (i+3 == len(s) || !isIdentChar(s[i+3])):
			b.WriteString("null")
			i += 2
			last = 'l'

		default:
			b.WriteByte(c)
			last = c
		}
	}
	return b.String(), nil
}

// scanString returns the index of the closing quote of the literal at start.
func scanString(s string, start int) (int, error) {
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i, nil
		}
	}
	return 0, fmt.Errorf("unterminated string literal")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func identEnd(s string, i int) int {
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	return i
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}
