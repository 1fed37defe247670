package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	netcopy "github.com/Sean-Khorasani/net-copy"
)

// serve: accept transfers until interrupted.
func serveCmd() *cobra.Command {
	var (
		listen    string
		port      int
		roots     []string
		statePath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept incoming transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.Network.ListenAddress = listen
			}
			if port != 0 {
				cfg.Network.Port = port
			}
			if len(roots) > 0 {
				cfg.Paths.AllowedPaths = roots
			}

			store, err := openStore(statePath)
			if err != nil {
				return err
			}
			defer store.Close()

			srv, err := netcopy.NewServer(cfg, store)
			if err != nil {
				return err
			}
			srv.OnResult = func(r netcopy.Result) {
				if r.Err != nil {
					fmt.Printf("%s  %s  %s: %v\n", r.RemoteAddr, r.SessionID, r.Status, r.Err)
					return
				}
				fmt.Printf("%s  %s  %s  %s (%d bytes, %.1f MB/s)\n",
					r.RemoteAddr, r.SessionID, r.Status,
					r.Stats.FileName, r.Stats.BytesTransferred,
					r.Stats.Throughput()/1e6)
			}

			if err := srv.Listen(); err != nil {
				return err
			}
			fmt.Printf("listening on %s\n", srv.Addr())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	cmd.Flags().StringSliceVar(&roots, "root", nil, "allowed root directory (repeatable, overrides config)")
	cmd.Flags().StringVar(&statePath, "state", "", "resume state database path")
	return cmd
}
