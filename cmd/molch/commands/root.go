// Package commands implements the molch demonstration CLI. It drives the
// library through its public operation surface and persists state between
// invocations as encrypted backups on disk.
package commands

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/molch"
)

// config is the TOML configuration of the CLI.
type config struct {
	DataDir string `toml:"data_dir"`

	Log struct {
		Verbose bool `toml:"verbose"`
	} `toml:"log"`
}

var (
	configPath string
	dataDir    string
	verbose    bool

	cfg     config
	library *molch.Library
)

// Execute runs the molch command tree.
func Execute() error {
	root := &cobra.Command{
		Use:   "molch",
		Short: "End-to-end encrypted messaging state engine",
		Long: "molch manages users, prekeys and double-ratchet conversations\n" +
			"and persists them as encrypted backups in its data directory.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return err
			}
			if verbose || cfg.Log.Verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return err
			}

			var err error
			library, err = molch.New(molch.NewOptions())
			if err != nil {
				return err
			}
			return loadState()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if library != nil {
				library.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/molch/config.toml)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "state directory (default ~/.molch)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(initCmd(), usersCmd(), conversationsCmd(), demoCmd(), exportCmd(), importCmd())
	return root.Execute()
}

// loadConfig reads the TOML config file. A missing default config file
// leaves the defaults in place; a file named with --config must exist.
func loadConfig() error {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".config", "molch", "config.toml")
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if configPath != "" {
			return err
		}
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfg.DataDir = filepath.Join(home, ".molch")
	}
	return nil
}
