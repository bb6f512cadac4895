package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jonathan/admissions-engine/internal/server"
)

var (
	serveFlags  commonFlags
	serveListen string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for creating runs, binding rule sets, uploading applicants, evaluating, overriding decisions and fetching reports.`,
	RunE:  runServe,
}

func init() {
	serveFlags.register(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address, e.g. :8080 (defaults to listen_addr from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := serveFlags.resolve(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = serveListen
	}

	e, err := buildEngine(context.Background(), cfg, true)
	if err != nil {
		return err
	}
	defer e.Close()

	srv := server.New(e.db, e.orchestrator, e.llm, e.convLog, e.logger, server.Config{
		ListenAddr: cfg.ListenAddr,
	})
	return srv.Start()
}
