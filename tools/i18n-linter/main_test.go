// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestFlattenYAMLAndLoadKeys(t *testing.T) {
	p := filepath.Join(t.TempDir(), "en.yaml")
	writeFile(t, p, "job.running: \"Running\"\ncli:\n  jobs:\n    none: \"No jobs\"\n")
	got, err := loadKeysFromLocale(p)
	if err != nil {
		t.Fatalf("loadKeysFromLocale failed: %v", err)
	}
	for _, k := range []string{"job.running", "cli.jobs.none"} {
		if _, ok := got[k]; !ok {
			t.Fatalf("expected key %s, got %v", k, got)
		}
	}
}

func TestLint(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "a.go"), `package pkg
func f(kind string) {
	_ = i18n.T("cli.jobs.none")
	_ = i18n.T("cli.jobs.cleared", 2)
	_ = i18n.T("failure." + kind)
	_ = outcome(nil, "job.success.inventory", 1)
	_ = i18n.T("cli.jobs.unknown")
	_ = viper.GetString("queue.url")
}
const pendingType = "job.pending"`)
	writeFile(t, filepath.Join(root, "pkg", "a_test.go"), `package pkg
var _ = i18n.T("cli.test.only")`)
	locales := filepath.Join(root, "locales")
	writeFile(t, filepath.Join(locales, "en.yaml"), `cli.jobs.none: "No jobs"
cli.jobs.cleared: "Cleared %d jobs"
failure.connection: "Could not reach the control node"
job.success.inventory: "Inventory finished"
job.running: "Running"
`)
	writeFile(t, filepath.Join(locales, "de.yaml"), `cli.jobs.none: "Keine Aufträge"
failure.connection: "Steuerknoten nicht erreichbar"
job.success.inventory: "Inventur abgeschlossen"
job.running: "Läuft"
`)

	rep, err := Lint(root, locales, "en.yaml")
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	if len(rep.Undefined) != 1 || rep.Undefined["cli.jobs.unknown"] == "" {
		t.Fatalf("expected only cli.jobs.unknown undefined, got %v", rep.Undefined)
	}
	if m := rep.Missing["de.yaml"]; len(m) != 1 || m[0] != "cli.jobs.cleared" {
		t.Fatalf("expected cli.jobs.cleared missing in de.yaml, got %v", rep.Missing)
	}
	if len(rep.Orphaned) != 1 || rep.Orphaned[0] != "job.running" {
		t.Fatalf("expected job.running orphaned, got %v", rep.Orphaned)
	}
	if !rep.Failed() {
		t.Fatalf("expected the run to fail")
	}

	var out bytes.Buffer
	rep.Print(&out)
	if !strings.Contains(out.String(), "de.yaml: cli.jobs.cleared") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
}

func TestLintRepositoryLocales(t *testing.T) {
	rep, err := Lint(filepath.Join("..", ".."), filepath.Join("..", "..", localesDir), primaryLocale)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	if rep.Failed() {
		var out bytes.Buffer
		rep.Print(&out)
		t.Fatalf("locale files are inconsistent:\n%s", out.String())
	}
}
