package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	netcopy "github.com/Sean-Khorasani/net-copy"
)

// send <host:port> <file>: push a local file to the server.
func sendCmd() *cobra.Command {
	var (
		remoteName string
		statePath  string
	)

	cmd := &cobra.Command{
		Use:   "send <host:port> <file>",
		Short: "Push a local file to a server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, localPath := args[0], args[1]
			name := remoteName
			if name == "" {
				name = filepath.Base(localPath)
			}
			ensureClientPaths(localPath)

			store, err := openStore(statePath)
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := netcopy.NewClient(cfg, store)
			if err != nil {
				return err
			}

			stats, err := client.Send(cmd.Context(), addr, localPath, name)
			if err != nil {
				return err
			}
			printStats("sent", stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&remoteName, "as", "", "remote file name (default: base name)")
	cmd.Flags().StringVar(&statePath, "state", "", "resume state database path")
	return cmd
}

// ensureClientPaths fills the allowed-paths section for a client run when
// the config file left it empty. Clients address local files directly, but
// validation still requires the section.
func ensureClientPaths(localPath string) {
	if len(cfg.Paths.AllowedPaths) > 0 {
		return
	}
	abs, err := filepath.Abs(filepath.Dir(localPath))
	if err != nil {
		abs = "/"
	}
	cfg.Paths.AllowedPaths = []string{abs}
}

func printStats(verb string, stats *netcopy.TransferStats) {
	resumed := ""
	if stats.Resumed {
		resumed = " (resumed)"
	}
	fmt.Printf("%s %s: %d bytes in %s, %.1f MB/s%s\n",
		verb, stats.FileName, stats.BytesTransferred,
		stats.Elapsed.Round(time.Millisecond), stats.Throughput()/1e6, resumed)
}
