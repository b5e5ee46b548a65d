// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package fleet

import (
	"context"
	"testing"

	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/failure"
	"github.com/toeirei/patchfleet/internal/model"
	"github.com/toeirei/patchfleet/internal/parser"
	"github.com/toeirei/patchfleet/internal/remote"
	"github.com/toeirei/patchfleet/internal/testutil"
)

var (
	centos = testutil.Host{
		Name: "web-01.example", OSName: "CentOS Linux 7 (Core)", OSVersion: "7 (Core)", Manager: "yum",
		Installed: [][2]string{{"openssh.x86_64", "7.4p1-16.el7"}, {"bash", "4.2.46-30.el7"}, {"gpg-pubkey", "f4a80eb5-53a7ff4b"}},
		Updates:   [][2]string{{"openssh.x86_64", "7.4p1-21.el7"}},
	}
	ubuntu = testutil.Host{
		Name: "db-01.example", OSName: "Ubuntu 22.04.3 LTS", OSVersion: "22.04.3 LTS (Jammy Jellyfish)", Manager: "apt",
		Installed: [][2]string{{"openssl", "3.0.2-0ubuntu1.10"}, {"libc6", "2.35-0ubuntu3.4"}},
	}
)

func runInventory(t *testing.T, store db.Store, owner string, hosts ...testutil.Host) Report {
	t.Helper()
	sess := testutil.NewFakeSession()
	testutil.ScriptInventory(sess, hosts...)
	inv, err := Collector{}.Collect(context.Background(), sess)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	rep, err := NewReconciler(store).Reconcile(context.Background(), owner, inv)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return rep
}

func packagesByName(t *testing.T, store db.Store, systemID int64) map[string]model.Package {
	t.Helper()
	pkgs, err := store.ListPackages(context.Background(), systemID, false)
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	out := make(map[string]model.Package, len(pkgs))
	for _, p := range pkgs {
		out[p.Name] = p
	}
	return out
}

func TestReconcile_StoresFleet(t *testing.T) {
	store := testutil.NewStore(t)
	rep := runInventory(t, store, "alice", centos, ubuntu)
	if rep.Live != 2 || rep.Packages != 4 || rep.PendingUpdates != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	sys, err := store.GetSystemByHostname(context.Background(), "alice", "web-01.example")
	if err != nil {
		t.Fatalf("GetSystemByHostname: %v", err)
	}
	if !sys.Connected || sys.OSName != "CentOS Linux 7 (Core)" || sys.Kind() != model.PackageManagerRPM {
		t.Fatalf("unexpected system: %+v", sys)
	}
	pkgs := packagesByName(t, store, sys.ID)
	if _, ok := pkgs["gpg-pubkey"]; ok {
		t.Fatalf("gpg-pubkey must not be stored")
	}
	ssh, ok := pkgs["openssh"]
	if !ok || !ssh.HasUpdate() || *ssh.NewVersion != "7.4p1-21.el7" {
		t.Fatalf("expected canonical openssh with pending version, got %+v", pkgs)
	}
	if pkgs["bash"].HasUpdate() {
		t.Fatalf("bash has no update")
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	store := testutil.NewStore(t)
	runInventory(t, store, "alice", centos, ubuntu)
	first, _ := store.ExportFleet(context.Background(), "alice")
	runInventory(t, store, "alice", centos, ubuntu)
	second, _ := store.ExportFleet(context.Background(), "alice")

	if len(first.Systems) != len(second.Systems) {
		t.Fatalf("system count changed: %d vs %d", len(first.Systems), len(second.Systems))
	}
	for i := range first.Systems {
		a, b := first.Systems[i], second.Systems[i]
		if a.System.ID != b.System.ID || len(a.Packages) != len(b.Packages) {
			t.Fatalf("fleet changed between identical runs: %+v vs %+v", a, b)
		}
		for j := range a.Packages {
			pa, pb := a.Packages[j], b.Packages[j]
			if pa.ID != pb.ID || pa.CurrentVersion != pb.CurrentVersion || pa.HasUpdate() != pb.HasUpdate() {
				t.Fatalf("package changed: %+v vs %+v", pa, pb)
			}
		}
	}
}

func TestReconcile_RetiresVanishedHostsAndPackages(t *testing.T) {
	store := testutil.NewStore(t)
	runInventory(t, store, "alice", centos, ubuntu)

	patched := centos
	patched.Installed = [][2]string{{"openssh.x86_64", "7.4p1-21.el7"}}
	patched.Updates = nil
	runInventory(t, store, "alice", patched)

	systems, err := store.ListSystems(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListSystems: %v", err)
	}
	if len(systems) != 2 {
		t.Fatalf("silent hosts must be kept, got %d systems", len(systems))
	}
	for _, s := range systems {
		if s.Hostname == "db-01.example" && s.Connected {
			t.Fatalf("db-01 did not answer and must be disconnected")
		}
		if s.Hostname == "web-01.example" {
			pkgs := packagesByName(t, store, s.ID)
			if pkgs["bash"].Active {
				t.Fatalf("bash vanished and must be inactive")
			}
			if p := pkgs["openssh"]; !p.Active || p.HasUpdate() || p.CurrentVersion != "7.4p1-21.el7" {
				t.Fatalf("unexpected openssh row: %+v", p)
			}
		}
	}
}

func TestReconcile_OwnersAreIsolated(t *testing.T) {
	store := testutil.NewStore(t)
	runInventory(t, store, "alice", centos)
	runInventory(t, store, "bob", ubuntu)
	runInventory(t, store, "bob", ubuntu)

	sys, err := store.GetSystemByHostname(context.Background(), "alice", "web-01.example")
	if err != nil || !sys.Connected {
		t.Fatalf("bob's run must not touch alice's fleet: %+v %v", sys, err)
	}
}

func TestReconcile_KeepsPackageManagerWhenSilent(t *testing.T) {
	store := testutil.NewStore(t)
	runInventory(t, store, "alice", centos)

	inv := &Inventory{
		Live:      []string{centos.Name},
		Installed: map[string][]parser.InstalledPackage{centos.Name: {{Name: "bash", Version: "4.2.46-30.el7"}}},
		Updates:   map[string]parser.HostUpdates{centos.Name: {}},
	}
	if _, err := NewReconciler(store).Reconcile(context.Background(), "alice", inv); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	sys, _ := store.GetSystemByHostname(context.Background(), "alice", centos.Name)
	if sys.PackageManager != "yum" {
		t.Fatalf("expected package manager to be kept, got %q", sys.PackageManager)
	}
}

func TestReconcile_LiveHostWithoutPackageDataFails(t *testing.T) {
	cases := map[string]*Inventory{
		"no installed block": {
			Live:    []string{centos.Name},
			Updates: map[string]parser.HostUpdates{centos.Name: {PackageManager: "yum"}},
		},
		"no updates block": {
			Live:      []string{centos.Name},
			Installed: map[string][]parser.InstalledPackage{centos.Name: {{Name: "bash", Version: "4.2.46-30.el7"}}},
		},
	}
	for name, inv := range cases {
		t.Run(name, func(t *testing.T) {
			store := testutil.NewStore(t)
			runInventory(t, store, "alice", centos)
			sys, _ := store.GetSystemByHostname(context.Background(), "alice", centos.Name)
			before := packagesByName(t, store, sys.ID)

			_, err := NewReconciler(store).Reconcile(context.Background(), "alice", inv)
			if !failure.Is(err, failure.KindParse) {
				t.Fatalf("expected parse failure, got %v", err)
			}
			after := packagesByName(t, store, sys.ID)
			if len(after) != len(before) {
				t.Fatalf("package rows changed: %+v vs %+v", before, after)
			}
			for n, p := range before {
				q := after[n]
				if q.Active != p.Active || q.HasUpdate() != p.HasUpdate() || q.CurrentVersion != p.CurrentVersion {
					t.Fatalf("package %s changed: %+v vs %+v", n, p, q)
				}
			}
		})
	}
}

func TestCollect_LiveHostMissingFromOutput(t *testing.T) {
	rel, _ := remote.ReleaseInfoCommand()
	inst, _ := remote.InstalledCommand()
	upd, _ := remote.CheckUpdatesCommand()

	t.Run("installed", func(t *testing.T) {
		sess := testutil.NewFakeSession()
		sess.On(remote.PingCommand(), testutil.PingOutput(centos, ubuntu))
		sess.On(rel, testutil.ReleaseOutput(centos, ubuntu))
		sess.On(inst, testutil.InstalledOutput(centos))
		sess.On(upd, testutil.UpdatesOutput(centos, ubuntu))
		_, err := Collector{}.Collect(context.Background(), sess)
		if !failure.Is(err, failure.KindParse) {
			t.Fatalf("expected parse failure, got %v", err)
		}
	})
	t.Run("updates", func(t *testing.T) {
		sess := testutil.NewFakeSession()
		sess.On(remote.PingCommand(), testutil.PingOutput(centos, ubuntu))
		sess.On(rel, testutil.ReleaseOutput(centos, ubuntu))
		sess.On(inst, testutil.InstalledOutput(centos, ubuntu))
		sess.On(upd, testutil.UpdatesOutput(ubuntu))
		_, err := Collector{}.Collect(context.Background(), sess)
		if !failure.Is(err, failure.KindParse) {
			t.Fatalf("expected parse failure, got %v", err)
		}
	})
}

func TestQueryHost_MissingBlockIsParseFailure(t *testing.T) {
	inst, _ := remote.InstalledCommand(centos.Name)
	upd, _ := remote.CheckUpdatesCommand(centos.Name)

	sess := testutil.NewFakeSession()
	sess.On(inst, testutil.InstalledOutput())
	sess.On(upd, testutil.UpdatesOutput(centos))
	if _, err := (Collector{}).QueryHost(context.Background(), sess, centos.Name); !failure.Is(err, failure.KindParse) {
		t.Fatalf("expected parse failure without installed block, got %v", err)
	}

	sess = testutil.NewFakeSession()
	sess.On(inst, testutil.InstalledOutput(centos))
	sess.On(upd, testutil.UpdatesOutput())
	if _, err := (Collector{}).QueryHost(context.Background(), sess, centos.Name); !failure.Is(err, failure.KindParse) {
		t.Fatalf("expected parse failure without update section, got %v", err)
	}
}

func TestReconcile_ScopedRunKeepsAnsweringHostsConnected(t *testing.T) {
	retired := testutil.Host{Name: "old-01.example", OSName: "Debian GNU/Linux 11", OSVersion: "11", Manager: "apt",
		Installed: [][2]string{{"bash", "5.1-2"}}}
	store := testutil.NewStore(t)
	runInventory(t, store, "alice", centos, ubuntu, retired)

	sess := testutil.NewFakeSession()
	sess.On(remote.PingCommand(), testutil.PingOutput(centos, ubuntu))
	rel, _ := remote.ReleaseInfoCommand(ubuntu.Name)
	sess.On(rel, testutil.ReleaseOutput(ubuntu))
	testutil.ScriptHostQuery(sess, ubuntu)

	inv, err := Collector{}.Collect(context.Background(), sess, ubuntu.Name)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if _, err := NewReconciler(store).Reconcile(context.Background(), "alice", inv); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	want := map[string]bool{centos.Name: true, ubuntu.Name: true, retired.Name: false}
	systems, err := store.ListSystems(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListSystems: %v", err)
	}
	for _, s := range systems {
		if s.Connected != want[s.Hostname] {
			t.Fatalf("%s: connected=%v, want %v", s.Hostname, s.Connected, want[s.Hostname])
		}
	}

	// out-of-scope package rows are untouched
	sys, _ := store.GetSystemByHostname(context.Background(), "alice", centos.Name)
	if p := packagesByName(t, store, sys.ID)["openssh"]; !p.Active || !p.HasUpdate() {
		t.Fatalf("scoped run touched an out-of-scope host: %+v", p)
	}
}

func TestCollect_LimitsToRequestedHosts(t *testing.T) {
	sess := testutil.NewFakeSession()
	sess.On(remote.PingCommand(), testutil.PingOutput(centos, ubuntu))
	rel, _ := remote.ReleaseInfoCommand(ubuntu.Name)
	sess.On(rel, testutil.ReleaseOutput(ubuntu))
	testutil.ScriptHostQuery(sess, ubuntu)

	inv, err := Collector{}.Collect(context.Background(), sess, ubuntu.Name)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(inv.Live) != 1 || inv.Live[0] != ubuntu.Name {
		t.Fatalf("unexpected live hosts: %v", inv.Live)
	}
	if len(inv.Answered) != 2 {
		t.Fatalf("the full liveness answer must be kept, got %v", inv.Answered)
	}
	if inv.Updates[ubuntu.Name].PackageManager != "apt" {
		t.Fatalf("package manager not captured without updates: %+v", inv.Updates)
	}
}

func TestCollect_NoLiveHostsRunsOnlyPing(t *testing.T) {
	sess := testutil.NewFakeSession()
	sess.On(remote.PingCommand(), "\n")
	inv, err := Collector{}.Collect(context.Background(), sess)
	if err != nil || len(inv.Live) != 0 {
		t.Fatalf("unexpected result: %+v %v", inv, err)
	}
	if got := sess.Ran(); len(got) != 1 {
		t.Fatalf("expected only the ping, ran %v", got)
	}
}

func TestCollect_ParseFailure(t *testing.T) {
	sess := testutil.NewFakeSession()
	rel, _ := remote.ReleaseInfoCommand()
	inst, _ := remote.InstalledCommand()
	sess.On(remote.PingCommand(), testutil.PingOutput(centos))
	sess.On(rel, testutil.ReleaseOutput(centos))
	sess.On(inst, centos.Name+":\nbrokenline\n\n")

	_, err := Collector{}.Collect(context.Background(), sess)
	if !failure.Is(err, failure.KindParse) {
		t.Fatalf("expected parse failure, got %v", err)
	}
}

func TestReconcileHost(t *testing.T) {
	store := testutil.NewStore(t)
	runInventory(t, store, "alice", centos)

	sess := testutil.NewFakeSession()
	patched := centos
	patched.Updates = nil
	testutil.ScriptHostQuery(sess, patched)
	state, err := Collector{}.QueryHost(context.Background(), sess, centos.Name)
	if err != nil {
		t.Fatalf("QueryHost: %v", err)
	}
	rep, err := NewReconciler(store).ReconcileHost(context.Background(), "alice", centos.Name, state)
	if err != nil {
		t.Fatalf("ReconcileHost: %v", err)
	}
	if rep.PendingUpdates != 0 || rep.Packages != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	sys, _ := store.GetSystemByHostname(context.Background(), "alice", centos.Name)
	pending, _ := store.PendingPackages(context.Background(), sys.ID)
	if len(pending) != 0 {
		t.Fatalf("expected no pending packages, got %+v", pending)
	}

	if _, err := NewReconciler(store).ReconcileHost(context.Background(), "alice", "ghost.example", state); err == nil {
		t.Fatalf("expected error for unknown host")
	}
}

func TestIntersectKeepsLiveOrder(t *testing.T) {
	got := intersect([]string{"c", "a", "b"}, []string{"b", "c"})
	want := []string{"c", "b"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v want %v", got, want)
	}
}
