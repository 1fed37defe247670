// Package commands implements the netcopy command line interface.
package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Sean-Khorasani/net-copy/config"
	"github.com/Sean-Khorasani/net-copy/storage"
)

var (
	configPath string
	keyHex     string
	verbose    bool

	cfg *config.Config
)

// Execute builds and runs the command tree.
func Execute() error {
	root := &cobra.Command{
		Use:           "netcopy",
		Short:         "Encrypted, resumable file transfer over a pre-shared key",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
			if cmd.Name() == "keygen" {
				return nil
			}
			return loadConfig()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (JSON)")
	root.PersistentFlags().StringVarP(&keyHex, "key", "k", "", "pre-shared key, 64 hex characters (overrides config)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serveCmd(), sendCmd(), recvCmd(), keygenCmd())
	return root.Execute()
}

// loadConfig layers the configuration file, if any, over defaults and
// applies flag overrides. Validation happens in the library constructors.
func loadConfig() error {
	cfg = config.Default()
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	if keyHex != "" {
		cfg.Security.Key = keyHex
	}
	if env := os.Getenv("NETCOPY_KEY"); cfg.Security.Key == "" && env != "" {
		cfg.Security.Key = env
	}
	return nil
}

// openStore opens the resume state store, or returns nil when no path is
// configured. A nil store degrades to fresh transfers only.
func openStore(path string) (*storage.Store, error) {
	if path == "" {
		return nil, nil
	}
	return storage.Open(path)
}
