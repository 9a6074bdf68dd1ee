package cli

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"crypto-risk/internal/api"
	"crypto-risk/internal/logger"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the risk engine over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				port = a.cfg.Server.Port
			}
			if port <= 0 || port > 65535 {
				return fmt.Errorf("--port must be in 1..65535, got %d", port)
			}
			logger.Banner(a.version)

			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			addr := net.JoinHostPort(host, strconv.Itoa(port))
			srv := api.NewServer(a.cfg, database, a.version)
			logger.Server(addr)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Listen host")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default from config)")
	return cmd
}
