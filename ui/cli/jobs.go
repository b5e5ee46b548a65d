// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/toeirei/patchfleet/internal/i18n"
	"github.com/toeirei/patchfleet/internal/jobs"
	"github.com/toeirei/patchfleet/internal/logging"
	"github.com/toeirei/patchfleet/internal/model"
)

// pollInterval is how often a waiting command checks its job.
var pollInterval = 200 * time.Millisecond

// runJob dispatches req. With the local queue the job runs in this process
// and the command waits for its result; with a broker the job id is printed
// and a worker picks it up.
func runJob(cmd *cobra.Command, req jobs.Request) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := newServices(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	job, err := svc.Dispatcher.Dispatch(ctx, req)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !svc.Local {
		fmt.Fprintln(out, i18n.T("cli.jobs.dispatched", job.ID, job.Label))
		return nil
	}

	logging.Debugf("%s", i18n.T("cli.jobs.waiting", job.ID, job.Label))
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = svc.Worker.Run(workerCtx) }()

	view, err := waitForJob(ctx, svc.Dispatcher, req.Owner, job.ID)
	if err != nil {
		return err
	}
	printOutcome(out, *view)
	if view.Status == model.JobFailed {
		return errors.New(i18n.T("cli.job.failed", job.ID))
	}
	return nil
}

func waitForJob(ctx context.Context, d *jobs.Dispatcher, owner, id string) (*jobs.View, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		v, err := d.Get(ctx, owner, id)
		if err != nil {
			return nil, err
		}
		if v.Status.Terminal() {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// statusColors follow the task list badges: green, red, yellow and grey.
var statusColors = map[model.JobStatus]lipgloss.Color{
	model.JobSucceeded:  "2",
	model.JobFailed:     "1",
	model.JobRunning:    "3",
	model.JobDispatched: "8",
}

// statusBadge renders "[STATUS]", colored when w is a terminal.
func statusBadge(w io.Writer, s model.JobStatus) string {
	style := lipgloss.NewRenderer(w).NewStyle().Bold(true).Foreground(statusColors[s])
	return style.Render("[" + string(s) + "]")
}

func printOutcome(w io.Writer, v jobs.View) {
	fmt.Fprintf(w, "%s %s: %s\n", statusBadge(w, v.Status), v.Label, v.Outcome.Message)
	if v.Status == model.JobFailed && v.Outcome.Detail != "" {
		fmt.Fprintln(w, v.Outcome.Detail)
	}
}

func newInventoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inventory [host...]",
		Short: "Collect the fleet inventory from the control node",
		Long: `Pings the fleet through the management agent and records every live host
with its OS facts, installed packages and pending updates. Hosts that no
longer answer are marked disconnected. Naming hosts limits the run to them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			return runJob(cmd, jobs.Request{Kind: jobs.KindInventory, Owner: owner, Hosts: args})
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <host> [package]",
		Short: "Update one package, or every pending package, on a host",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			sys, err := store.GetSystemByHostname(cmd.Context(), owner, args[0])
			if err != nil {
				return fmt.Errorf("system %s: %w", args[0], err)
			}
			if len(args) == 1 {
				return runJob(cmd, jobs.Request{Kind: jobs.KindUpdateHost, Owner: owner, SystemID: sys.ID})
			}
			pkg, err := findPackage(cmd.Context(), sys.ID, args[1])
			if err != nil {
				return err
			}
			return runJob(cmd, jobs.Request{Kind: jobs.KindUpdatePackage, Owner: owner, PackageID: pkg.ID})
		},
	}
}

func findPackage(ctx context.Context, systemID int64, name string) (*model.Package, error) {
	pkgs, err := store.ListPackages(ctx, systemID, true)
	if err != nil {
		return nil, err
	}
	canonical := model.CanonicalPackageName(name)
	for _, p := range pkgs {
		if p.Name == canonical {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("package %s is not installed", name)
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [host]",
		Short: "Correlate installed packages with published CVEs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			req := jobs.Request{Kind: jobs.KindScanCVE, Owner: owner}
			if len(args) == 1 {
				sys, err := store.GetSystemByHostname(cmd.Context(), owner, args[0])
				if err != nil {
					return fmt.Errorf("system %s: %w", args[0], err)
				}
				req.SystemID = sys.ID
			}
			return runJob(cmd, req)
		},
	}
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			views, err := jobs.NewDispatcher(store, nil, nil).Poll(cmd.Context(), owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, i18n.T("cli.jobs.none"))
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tJOB\tMESSAGE")
			for _, v := range views {
				msg := v.Outcome.Message
				if v.Status == model.JobDispatched {
					msg = i18n.T("job.dispatched")
				}
				mark := ""
				if v.Surfaced {
					mark = " *"
				}
				fmt.Fprintf(tw, "%s\t%s%s\t%s\t%s\t%s\n", v.ID, v.Status, mark, v.StartedAt.Local().Format(time.DateTime), v.Label, msg)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs that were already listed",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			n, err := jobs.NewDispatcher(store, nil, nil).Clear(cmd.Context(), owner)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.jobs.cleared", n))
			return nil
		},
	}, &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Run a job again with its original request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			prev, err := store.GetJob(cmd.Context(), owner, args[0])
			if err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}
			req, err := jobs.DecodeRequest(prev.Request)
			if err != nil {
				return err
			}
			req.Owner = owner
			return runJob(cmd, req)
		},
	})
	return cmd
}
