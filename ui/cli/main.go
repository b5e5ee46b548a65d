// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface of patchfleet using Cobra. It
// defines the root command, loads the configuration and opens the store
// before any subcommand runs.

package cli

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/patchfleet/buildvars"
	"github.com/toeirei/patchfleet/internal/config"
	"github.com/toeirei/patchfleet/internal/db"
	"github.com/toeirei/patchfleet/internal/i18n"
	"github.com/toeirei/patchfleet/internal/logging"
)

var (
	cfgFile   string
	verbose   bool
	ownerFlag string

	appConfig config.Config
	store     db.Store
)

// openStore is overridden in tests.
var openStore = func(dbType, dsn string) (db.Store, error) {
	return db.New(dbType, dsn)
}

func setupDefaultServices(cmd *cobra.Command, args []string) error {
	configPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	appConfig, err = config.LoadConfig[config.Config](cmd, config.Defaults(), configPath)
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		// First run: persist the defaults so the file can be edited.
		if writeErr := config.WriteConfigFile(&appConfig, false); writeErr != nil {
			logging.Warnf("could not write default config file: %v", writeErr)
		} else {
			logging.Infof("wrote default config to user config path")
		}
	} else if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if err := logging.Setup(appConfig.Log.Level, os.Stderr); err != nil {
		return err
	}
	if verbose {
		logging.SetDebug(true)
	}
	i18n.Init(appConfig.Language)

	if store == nil {
		s, err := openStore(appConfig.Database.Type, appConfig.Database.Dsn)
		if err != nil {
			return fmt.Errorf("could not initialize database: %w", err)
		}
		store = s
	}
	return nil
}

func teardownServices(cmd *cobra.Command, args []string) error {
	passphrases.Clear()
	if store == nil {
		return nil
	}
	err := store.Close()
	store = nil
	return err
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// resolveOwner returns --owner, PATCHFLEET_OWNER or the only configured
// profile.
func resolveOwner() (string, error) {
	if ownerFlag != "" {
		return ownerFlag, nil
	}
	if env := os.Getenv("PATCHFLEET_OWNER"); env != "" {
		return env, nil
	}
	if len(appConfig.Profiles) == 1 {
		for owner := range appConfig.Profiles {
			return owner, nil
		}
	}
	return "", errors.New(i18n.T("cli.owner.missing"))
}

// Execute runs the CLI entrypoint. Post-run hooks are skipped when a command
// fails, so cached passphrases are wiped here too.
func Execute() error {
	defer passphrases.Clear()
	return NewRootCmd().Execute()
}

// NewRootCmd creates the root command with all subcommands. Tests call it for
// a fresh command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patchfleet",
		Short: "Patchfleet inventories a managed fleet and orchestrates its updates.",
		Long: `Patchfleet drives a fleet through the management agent on a control node.
It records every host with its installed packages and pending updates,
updates packages and verifies the result, and correlates installed
packages with published CVEs.`,
		Version:            versionString(nil),
		SilenceUsage:       true,
		PersistentPreRunE:  setupDefaultServices,
		PersistentPostRunE: teardownServices,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cmd.PersistentFlags().StringVar(&ownerFlag, "owner", "", "Fleet owner (profile name)")
	cmd.PersistentFlags().String("language", "en", `Output language ("en", "de")`)
	cmd.PersistentFlags().String("database.type", "sqlite", "Database type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("database.dsn", "./patchfleet.db", "Database connection string (DSN)")

	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newInventoryCmd(),
		newUpdateCmd(),
		newScanCmd(),
		newJobsCmd(),
		newSystemsCmd(),
		newPackagesCmd(),
		newCVEsCmd(),
		newSummaryCmd(),
		newDeleteSystemCmd(),
		newExportCmd(),
		newMaintainCmd(),
		newCheckCmd(),
		newTrustHostCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		// No config or database needed.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString(nil))
		},
	}
}

// versionString combines the linked version with the VCS data of info, read
// from the running binary when info is nil.
func versionString(info *debug.BuildInfo) string {
	v := buildvars.VersionOrDefault("dev")
	commit := buildvars.Commit
	if info == nil {
		info, _ = debug.ReadBuildInfo()
	}
	if info != nil {
		if v == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && commit == "" && len(s.Value) >= 7 {
				commit = s.Value[:7]
			}
		}
	}
	if commit != "" {
		v += " (" + commit + ")"
	}
	return v
}
