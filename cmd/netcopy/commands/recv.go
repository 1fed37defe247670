package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	netcopy "github.com/Sean-Khorasani/net-copy"
)

// recv <host:port> <remote-name> [dest]: pull a remote file.
func recvCmd() *cobra.Command {
	var statePath string

	cmd := &cobra.Command{
		Use:   "recv <host:port> <remote-name> [dest]",
		Short: "Pull a remote file from a server",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, remoteName := args[0], args[1]
			dest := filepath.Base(remoteName)
			if len(args) == 3 {
				dest = args[2]
			}
			ensureClientPaths(dest)

			store, err := openStore(statePath)
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := netcopy.NewClient(cfg, store)
			if err != nil {
				return err
			}

			stats, err := client.Fetch(cmd.Context(), addr, remoteName, dest)
			if err != nil {
				return err
			}
			printStats("received", stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&statePath, "state", "", "resume state database path")
	return cmd
}
