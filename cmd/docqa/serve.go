package docqa

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/docqa/api"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Start the HTTP API server with REST endpoints and WebSocket streaming.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}

		server, err := api.NewServer(cfg)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		fmt.Printf("DocQA listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		return server.Start()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "server host (default from config)")
}
