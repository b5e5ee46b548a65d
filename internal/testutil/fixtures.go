// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"fmt"
	"strings"

	"github.com/toeirei/patchfleet/internal/remote"
)

// Host describes a managed host for generated agent output.
type Host struct {
	Name      string
	OSName    string
	OSVersion string
	Kernel    string
	Manager   string
	Installed [][2]string // name, version
	Updates   [][2]string // package, version
}

// PingOutput renders `mco ping` output for hosts.
func PingOutput(hosts ...Host) string {
	var b strings.Builder
	for i, h := range hosts {
		fmt.Fprintf(&b, "%-40s time=%d.00 ms\n", h.Name, 100+i)
	}
	fmt.Fprintf(&b, "\n\n---- ping statistics ----\n%d replies\n", len(hosts))
	return b.String()
}

// ReleaseOutput renders the release info command output.
func ReleaseOutput(hosts ...Host) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%d / %d\n\n", len(hosts), len(hosts))
	for _, h := range hosts {
		fmt.Fprintf(&b, "%s:\nNAME=\"%s\"\nVERSION=\"%s\"\nPRETTY_NAME=\"%s\"\n%s\n\n", h.Name, h.OSName, h.OSVersion, h.OSName, kernel(h))
	}
	b.WriteString("Finished processing hosts\n")
	return b.String()
}

func kernel(h Host) string {
	if h.Kernel == "" {
		return "Linux 5.14.0 x86_64"
	}
	return h.Kernel
}

// InstalledOutput renders the installed-package command output.
func InstalledOutput(hosts ...Host) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%d / %d\n\n", len(hosts), len(hosts))
	for _, h := range hosts {
		fmt.Fprintf(&b, "%s:\n", h.Name)
		for _, p := range h.Installed {
			fmt.Fprintf(&b, "%s %s\n", p[0], p[1])
		}
		b.WriteString("\n")
	}
	b.WriteString("Finished processing hosts\n")
	return b.String()
}

// UpdatesOutput renders `mco rpc package checkupdates` output.
func UpdatesOutput(hosts ...Host) string {
	var b strings.Builder
	b.WriteString("Discovering hosts using the mc method for 2 second(s) .... done\n\n")
	for _, h := range hosts {
		records := make([]string, 0, len(h.Updates))
		for _, u := range h.Updates {
			records = append(records, fmt.Sprintf(`{:package=>%q, :version=>%q, :repo=>"updates"}`, u[0], u[1]))
		}
		fmt.Fprintf(&b, "%s\n           Exit Code: 0\n   Outdated Packages: [%s]\n              Output:\n     Package Manager: %s\n\n",
			h.Name, strings.Join(records, ",\n                       "), h.Manager)
	}
	b.WriteString("Finished processing hosts\n")
	return b.String()
}

// ScriptInventory queues the fleet-wide inventory commands for hosts.
func ScriptInventory(sess *FakeSession, hosts ...Host) {
	rel, _ := remote.ReleaseInfoCommand()
	inst, _ := remote.InstalledCommand()
	upd, _ := remote.CheckUpdatesCommand()
	sess.On(remote.PingCommand(), PingOutput(hosts...))
	sess.On(rel, ReleaseOutput(hosts...))
	sess.On(inst, InstalledOutput(hosts...))
	sess.On(upd, UpdatesOutput(hosts...))
}

// ScriptHostQuery queues the scoped re-query commands of one host.
func ScriptHostQuery(sess *FakeSession, h Host) {
	inst, _ := remote.InstalledCommand(h.Name)
	upd, _ := remote.CheckUpdatesCommand(h.Name)
	sess.On(inst, InstalledOutput(h))
	sess.On(upd, UpdatesOutput(h))
}

// ScriptUpdate queues a successful update of pkg on host.
func ScriptUpdate(sess *FakeSession, pkg, host string) {
	cmd, _ := remote.UpdatePackageCommand(pkg, host)
	sess.On(cmd, fmt.Sprintf("%s\n   Exit Code: 0\n   Output: updated %s\n\n", host, pkg))
}
