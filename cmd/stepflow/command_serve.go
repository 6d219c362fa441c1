package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/sourceplane/stepflow/internal/server"
	"github.com/sourceplane/stepflow/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run plans posted over HTTP",
	Long:  "Serve POST /api/v1/executions, GET /api/v1/executions[/:id], GET /api/v1/health and GET /metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func registerServeCommand(root *cobra.Command) {
	root.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func serve() error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	r, err := newRunner()
	if err != nil {
		return err
	}

	var reports server.ReportStore
	if cfg.Archive.Path != "" {
		archive, err := store.Open(cfg.Archive.Path)
		if err != nil {
			return err
		}
		defer archive.Close()
		reports = archive
	} else {
		reports = store.NewMemory(0)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(r, reports, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(status, "✓ Listening on %s (API %s)\n", cfg.Server.Addr, cfg.HTTP.BaseURL)
	return srv.Run(ctx, cfg.Server.Addr)
}
