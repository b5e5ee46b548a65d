// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package fleet collects inventory from the control node and reconciles it
// into durable System and Package records.
package fleet // import "github.com/toeirei/patchfleet/internal/fleet"

import (
	"context"
	"fmt"

	"github.com/toeirei/patchfleet/internal/failure"
	"github.com/toeirei/patchfleet/internal/parser"
	"github.com/toeirei/patchfleet/internal/remote"
)

// Inventory is the parsed result of one inventory run.
type Inventory struct {
	// Answered lists every host that answered the liveness probe, including
	// hosts outside a scoped run. Live is the part the run queried.
	Answered  []string
	Live      []string
	OS        map[string]parser.OSInfo
	Installed map[string][]parser.InstalledPackage
	Updates   map[string]parser.HostUpdates
}

// HostState is the freshly queried package state of one host.
type HostState struct {
	Installed []parser.InstalledPackage
	Updates   parser.HostUpdates
}

// Collector runs the inventory commands over a session and parses them.
type Collector struct{}

// Collect runs a full inventory. When hosts is non-empty the run is limited
// to them; the liveness probe still answers for the whole fleet and is
// filtered afterwards. Without live hosts no further command is issued.
func (Collector) Collect(ctx context.Context, sess remote.Session, hosts ...string) (*Inventory, error) {
	answered, err := Live(ctx, sess)
	if err != nil {
		return nil, err
	}
	live := answered
	if len(hosts) > 0 {
		live = intersect(answered, hosts)
	}
	inv := &Inventory{Answered: answered, Live: live}
	if len(live) == 0 {
		return inv, nil
	}

	cmd, err := remote.ReleaseInfoCommand(hosts...)
	if err != nil {
		return nil, err
	}
	out, err := sess.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if inv.OS, err = parser.ParseReleaseInfo(out, live); err != nil {
		return nil, err
	}

	if inv.Installed, err = installed(ctx, sess, live, hosts...); err != nil {
		return nil, err
	}
	if inv.Updates, err = updates(ctx, sess, live, hosts...); err != nil {
		return nil, err
	}
	return inv, nil
}

// QueryHost re-queries installed packages and available updates of one host.
// A host missing from either output is a parse failure.
func (Collector) QueryHost(ctx context.Context, sess remote.Session, host string) (*HostState, error) {
	live := []string{host}
	inst, err := installed(ctx, sess, live, host)
	if err != nil {
		return nil, err
	}
	upd, err := updates(ctx, sess, live, host)
	if err != nil {
		return nil, err
	}
	if _, ok := inst[host]; !ok {
		return nil, failure.Newf(failure.KindParse, "query host", "no installed packages reported").OnHost(host)
	}
	if _, ok := upd[host]; !ok {
		return nil, failure.Newf(failure.KindParse, "query host", "no update section reported").OnHost(host)
	}
	return &HostState{Installed: inst[host], Updates: upd[host]}, nil
}

// Live runs the liveness probe and returns the answering hosts in order.
func Live(ctx context.Context, sess remote.Session) ([]string, error) {
	out, err := sess.Run(ctx, remote.PingCommand())
	if err != nil {
		return nil, err
	}
	return parser.ParseLiveness(out)
}

// IsLive reports whether host answers the liveness probe.
func IsLive(ctx context.Context, sess remote.Session, host string) (bool, error) {
	live, err := Live(ctx, sess)
	if err != nil {
		return false, err
	}
	for _, h := range live {
		if h == host {
			return true, nil
		}
	}
	return false, nil
}

func installed(ctx context.Context, sess remote.Session, live []string, hosts ...string) (map[string][]parser.InstalledPackage, error) {
	cmd, err := remote.InstalledCommand(hosts...)
	if err != nil {
		return nil, err
	}
	out, err := sess.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return parser.ParseInstalled(out, live)
}

func updates(ctx context.Context, sess remote.Session, live []string, hosts ...string) (map[string]parser.HostUpdates, error) {
	cmd, err := remote.CheckUpdatesCommand(hosts...)
	if err != nil {
		return nil, err
	}
	out, err := sess.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	res, err := parser.ParseUpdates(out, live)
	if err != nil {
		return nil, fmt.Errorf("check updates: %w", err)
	}
	return res, nil
}

func intersect(live, wanted []string) []string {
	want := make(map[string]struct{}, len(wanted))
	for _, h := range wanted {
		want[h] = struct{}{}
	}
	out := live[:0:0]
	for _, h := range live {
		if _, ok := want[h]; ok {
			out = append(out, h)
		}
	}
	return out
}
