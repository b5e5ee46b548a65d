// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks the locale files against the translation keys used in
// the Go sources. It fails when code references a key the primary locale
// lacks, or when another locale misses a key of the primary one. Keys no
// code references are reported as orphans without failing.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	localesDir    = "internal/i18n/locales"
	primaryLocale = "en.yaml"
	projectRoot   = "."
)

var (
	// i18n.T("key") and message ids passed on as call arguments.
	keyUseRe = regexp.MustCompile(`i18n\.T\("([^"]+)"\s*[,)]|"([a-z]+(?:\.[a-z_]+)+)"\s*[,)]`)
	// i18n.T("prefix." + kind) covers every key below prefix.
	prefixUseRe = regexp.MustCompile(`i18n\.T\("([^"]+\.)"\s*\+`)
)

// Report is the outcome of one lint run.
type Report struct {
	// Undefined maps keys used in code but absent from the primary locale to
	// the first place they are used.
	Undefined map[string]string
	// Missing lists, per secondary locale file, the primary keys it lacks.
	Missing map[string][]string
	// Orphaned lists primary keys no code uses.
	Orphaned []string
}

// Failed reports whether the run found errors.
func (r Report) Failed() bool { return len(r.Undefined) > 0 || len(r.Missing) > 0 }

func main() {
	rep, err := Lint(projectRoot, localesDir, primaryLocale)
	if err != nil {
		fmt.Fprintf(os.Stderr, "i18n-linter: %v\n", err)
		os.Exit(2)
	}
	rep.Print(os.Stdout)
	if rep.Failed() {
		os.Exit(1)
	}
}

// Lint scans the sources below root and compares them with the locales in dir.
func Lint(root, dir, primary string) (Report, error) {
	used, prefixes, err := findUsedKeys(root)
	if err != nil {
		return Report{}, fmt.Errorf("scan sources: %w", err)
	}
	primaryKeys, err := loadKeysFromLocale(filepath.Join(dir, primary))
	if err != nil {
		return Report{}, fmt.Errorf("load primary locale %s: %w", primary, err)
	}

	rep := Report{Undefined: map[string]string{}, Missing: map[string][]string{}}
	for key, loc := range used {
		if _, ok := primaryKeys[key]; !ok && looksLikeMessageKey(key, primaryKeys) {
			rep.Undefined[key] = loc
		}
	}
	for key := range primaryKeys {
		if _, ok := used[key]; ok || hasPrefix(key, prefixes) {
			continue
		}
		rep.Orphaned = append(rep.Orphaned, key)
	}
	sort.Strings(rep.Orphaned)

	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return Report{}, err
	}
	for _, file := range files {
		if filepath.Base(file) == primary {
			continue
		}
		keys, err := loadKeysFromLocale(file)
		if err != nil {
			return Report{}, fmt.Errorf("load locale %s: %w", file, err)
		}
		var missing []string
		for key := range primaryKeys {
			if _, ok := keys[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			rep.Missing[filepath.Base(file)] = missing
		}
	}
	return rep, nil
}

// looksLikeMessageKey filters plain literals such as "queue.url" that only
// share the key shape. A literal counts when its first segment is a known
// key namespace.
func looksLikeMessageKey(key string, primaryKeys map[string]struct{}) bool {
	ns, _, _ := strings.Cut(key, ".")
	for k := range primaryKeys {
		if strings.HasPrefix(k, ns+".") {
			return true
		}
	}
	return false
}

func hasPrefix(key string, prefixes map[string]struct{}) bool {
	for p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// findUsedKeys scans all non-test .go files below root. It returns the keys
// with their first location and the prefixes of dynamically built keys.
func findUsedKeys(root string) (map[string]string, map[string]struct{}, error) {
	keys := make(map[string]string)
	prefixes := make(map[string]struct{})
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			switch info.Name() {
			case "tools", "_examples", "vendor", ".git":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for i, line := range strings.Split(string(content), "\n") {
			for _, m := range prefixUseRe.FindAllStringSubmatch(line, -1) {
				prefixes[m[1]] = struct{}{}
			}
			for _, m := range keyUseRe.FindAllStringSubmatch(line, -1) {
				key := m[1]
				if key == "" {
					key = m[2]
				}
				if _, seen := keys[key]; !seen {
					keys[key] = fmt.Sprintf("%s:%d", path, i+1)
				}
			}
		}
		return nil
	})
	return keys, prefixes, err
}

// loadKeysFromLocale reads a YAML file and returns a flat set of its keys.
func loadKeysFromLocale(path string) (map[string]struct{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}
	keys := make(map[string]struct{})
	flattenYAML("", data, keys)
	return keys, nil
}

// flattenYAML converts nested maps into dot-separated keys.
func flattenYAML(prefix string, node interface{}, keys map[string]struct{}) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, val := range v {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenYAML(next, val, keys)
		}
	default:
		if prefix != "" {
			keys[prefix] = struct{}{}
		}
	}
}

// Print writes a human readable report.
func (r Report) Print(w io.Writer) {
	fmt.Fprintln(w, "--- Keys used in code but not defined ---")
	if len(r.Undefined) == 0 {
		fmt.Fprintln(w, "  none")
	}
	undefined := make([]string, 0, len(r.Undefined))
	for k := range r.Undefined {
		undefined = append(undefined, k)
	}
	sort.Strings(undefined)
	for _, k := range undefined {
		fmt.Fprintf(w, "  - %s (%s)\n", k, r.Undefined[k])
	}

	fmt.Fprintln(w, "--- Keys missing from secondary locales ---")
	if len(r.Missing) == 0 {
		fmt.Fprintln(w, "  none")
	}
	files := make([]string, 0, len(r.Missing))
	for f := range r.Missing {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		for _, k := range r.Missing[f] {
			fmt.Fprintf(w, "  - %s: %s\n", f, k)
		}
	}

	fmt.Fprintln(w, "--- Orphaned keys ---")
	if len(r.Orphaned) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, k := range r.Orphaned {
		fmt.Fprintf(w, "  - %s\n", k)
	}
}
