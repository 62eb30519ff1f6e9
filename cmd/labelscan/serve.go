package main

import (
	"context"
	"fmt"

	"github.com/jonathan/labelscan/internal/chat"
	"github.com/jonathan/labelscan/internal/db"
	"github.com/jonathan/labelscan/internal/pipeline"
	"github.com/jonathan/labelscan/internal/server"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server exposing label analysis, scan history, chat and health profile endpoints. Requires Postgres and a JWT secret shared with the identity provider.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if err := cfg.RequireServer(); err != nil {
		return err
	}
	jwtConfig, err := cfg.JWT.Resolve()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return err
	}

	gw, closers, err := newGateway(ctx, cfg, logger)
	if err != nil {
		database.Close()
		return err
	}
	// The server releases these in order: client and cache before the pool.
	closers = append(closers, closerFunc(func() error {
		database.Close()
		return nil
	}))

	analyzer := pipeline.NewAnalyzer(gw, nil, logger)
	conv := chat.NewConversation(gw, database,
		chat.WithHistoryWindow(cfg.Analysis.HistoryWindow),
		chat.WithLogger(logger),
	)

	srv, err := server.New(server.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Pipeline:       pipeline.NewService(analyzer, database, database, logger, cfg.Analysis.BatchConcurrency),
		Chat:           chat.NewService(conv, database, database),
		Scans:          database,
		Profiles:       database,
		Tokens:         server.NewJWTService(jwtConfig).AsTokenValidator(),
		Logger:         logger,
		Closers:        closers,
	})
	if err != nil {
		closeAll(logger, closers)
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
