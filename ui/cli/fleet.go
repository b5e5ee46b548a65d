// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"github.com/toeirei/patchfleet/internal/i18n"
	"github.com/toeirei/patchfleet/internal/model"
)

func newSystemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "systems",
		Short: "List the systems of the fleet with their patch priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			systems, err := store.ListSystems(cmd.Context(), owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(systems) == 0 {
				fmt.Fprintln(out, i18n.T("cli.systems.none"))
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HOST\tCONNECTED\tOS\tKERNEL\tMANAGER\tPENDING\tPRIORITY")
			for _, sys := range systems {
				pending, err := store.PendingPackages(cmd.Context(), sys.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\t%d\t%s\n",
					sys.Hostname, sys.Connected, sys.OSName, sys.Kernel, sys.PackageManager, len(pending), model.PriorityFor(len(pending)))
			}
			return tw.Flush()
		},
	}
}

func newPackagesCmd() *cobra.Command {
	var pending, all bool
	cmd := &cobra.Command{
		Use:   "packages <host>",
		Short: "List the packages installed on a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			sys, err := store.GetSystemByHostname(cmd.Context(), owner, args[0])
			if err != nil {
				return fmt.Errorf("system %s: %w", args[0], err)
			}
			var pkgs []model.Package
			if pending {
				pkgs, err = store.PendingPackages(cmd.Context(), sys.ID)
			} else {
				pkgs, err = store.ListPackages(cmd.Context(), sys.ID, !all)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pkgs) == 0 {
				fmt.Fprintln(out, i18n.T("cli.packages.none"))
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PACKAGE\tINSTALLED\tAVAILABLE\tACTIVE")
			for _, p := range pkgs {
				next := "-"
				if p.NewVersion != nil {
					next = *p.NewVersion
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", p.Name, p.CurrentVersion, next, p.Active)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "Only packages with a pending update")
	cmd.Flags().BoolVar(&all, "all", false, "Include packages no longer installed")
	return cmd
}

func newCVEsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cves <host>",
		Short: "List the CVEs correlated to a host, most severe first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			sys, err := store.GetSystemByHostname(cmd.Context(), owner, args[0])
			if err != nil {
				return fmt.Errorf("system %s: %w", args[0], err)
			}
			cves, err := store.ListCVEs(cmd.Context(), sys.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cves) == 0 {
				fmt.Fprintln(out, i18n.T("cli.cves.none"))
				return nil
			}
			sort.SliceStable(cves, func(i, j int) bool { return cves[i].Severity.Rank() > cves[j].Severity.Rank() })
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CVE\tSEVERITY\tSCORE\tPACKAGE\tDESCRIPTION")
			for _, c := range cves {
				score := "-"
				if c.Score != nil {
					score = fmt.Sprintf("%.1f", *c.Score)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.CVEID, c.Severity, score, c.AffectedPackage, c.Description)
			}
			return tw.Flush()
		},
	}
}

func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show the fleet dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			sum, err := store.Summary(cmd.Context(), owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, i18n.T("cli.summary", sum.Connected, sum.Systems, sum.PendingUpdates, sum.CVEs))
			sevs := make([]model.Severity, 0, len(sum.CVEsBySeverity))
			for s := range sum.CVEsBySeverity {
				sevs = append(sevs, s)
			}
			sort.Slice(sevs, func(i, j int) bool {
				if sevs[i].Rank() != sevs[j].Rank() {
					return sevs[i].Rank() > sevs[j].Rank()
				}
				return sevs[i] < sevs[j]
			})
			for _, s := range sevs {
				fmt.Fprintf(out, "  %-10s %d\n", s, sum.CVEsBySeverity[s])
			}
			return nil
		},
	}
}

func newDeleteSystemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-system <host>",
		Short: "Delete a system with its packages and CVEs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			sys, err := store.GetSystemByHostname(cmd.Context(), owner, args[0])
			if err != nil {
				return fmt.Errorf("system %s: %w", args[0], err)
			}
			if err := store.DeleteSystem(cmd.Context(), owner, sys.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.system.deleted", sys.Hostname))
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [output-file]",
		Short: "Write a compressed (zstd) JSON snapshot of the fleet",
		Long: `Exports every system of the owner with its packages and CVEs into a single
Zstandard-compressed JSON file. '.zst' is appended to the name if missing.
Without a file name 'patchfleet-<owner>-YYYY-MM-DD.json.zst' is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := resolveOwner()
			if err != nil {
				return err
			}
			outputFile := fmt.Sprintf("patchfleet-%s-%s.json.zst", owner, time.Now().Format("2006-01-02"))
			if len(args) == 1 {
				outputFile = args[0]
				if !strings.HasSuffix(outputFile, ".zst") {
					outputFile += ".zst"
				}
			}
			snap, err := store.ExportFleet(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if err := writeCompressedSnapshot(outputFile, snap); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.export.written", len(snap.Systems), outputFile))
			return nil
		},
	}
}

// writeCompressedSnapshot streams snap as indented JSON through a zstd writer.
func writeCompressedSnapshot(filename string, snap *model.FleetSnapshot) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer func() { _ = file.Close() }()

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		_ = zw.Close()
		return fmt.Errorf("could not encode json to zstd writer: %w", err)
	}
	return zw.Close()
}

func newMaintainCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run database maintenance (VACUUM/OPTIMIZE) for the configured DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			if err := store.RunDBMaintenance(ctx); err != nil {
				return fmt.Errorf("maintenance failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.maintain.done"))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort maintenance after this long (0 means no timeout)")
	return cmd
}
