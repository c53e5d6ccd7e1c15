package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"contentforge/internal/admin"
	"contentforge/internal/auth"
	"contentforge/internal/config"
	"contentforge/internal/engine"
	"contentforge/internal/generator"
	"contentforge/internal/instrument"
	"contentforge/internal/metadata"
	"contentforge/internal/rbac"
	"contentforge/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "contentforge",
		Short: "Content-model builder and headless content API",
		Long: `contentforge serves a content API over models defined at runtime.
Defining or changing a model publishes its artifacts and takes effect
without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(regenerateCmd())
	rootCmd.AddCommand(rolesCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

// runtime is the wired core shared by every command.
type runtime struct {
	cfg       *config.Config
	connector *store.Connector
	store     *store.Store
	registry  *metadata.Registry
	publisher *generator.Publisher
	pipeline  *generator.Pipeline
	rbac      *rbac.Service
}

func setup(ctx context.Context) (*runtime, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log.Printf("Config loaded (port: %d, driver: %s, artifacts: %s)", cfg.Server.Port, cfg.Database.Driver, cfg.Artifacts.Dir)

	// 2. Artifact output and restart marker
	marker := generator.NewMarker(cfg.Artifacts.MarkerPath)
	pub := generator.NewPublisher(cfg.Artifacts.Dir)

	// 3. Lazy connector backs the registry
	connector := store.NewConnector(cfg.Database, marker)
	reg := metadata.NewRegistry(connector)

	// 4. A pending marker means a model write was interrupted: republish it
	connector.OnMarker = func(ctx context.Context, s *store.Store, name string) error {
		return generator.NewPipeline(s, reg, pub, marker).Recover(ctx, name)
	}

	// 5. Connect and bootstrap system tables
	s, err := connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// 6. Role tables
	table := rbac.DefaultTable()
	if cfg.RBAC.DefaultsFile != "" {
		if table, err = rbac.LoadTable(cfg.RBAC.DefaultsFile); err != nil {
			connector.Close()
			return nil, err
		}
	}
	svc := rbac.New(table)
	if err := svc.Sync(ctx, s); err != nil {
		log.Printf("WARN: Failed to load roles: %v", err)
	}

	return &runtime{
		cfg:       cfg,
		connector: connector,
		store:     s,
		registry:  reg,
		publisher: pub,
		pipeline:  generator.NewPipeline(s, reg, pub, marker),
		rbac:      svc,
	}, nil
}

func serve(ctx context.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.connector.Close()
	cfg := rt.cfg

	// 7. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	events := instrument.NewBuffer(cfg.EventBufferSize)
	app.Use(instrument.Middleware(instrument.NewRecorder(events)))

	// 8. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "models": rt.registry.Len()})
	})

	session := auth.SessionMiddleware(cfg.JWTSecret)
	apiToken := auth.APITokenMiddleware(cfg.APITokenSecret, rt.store)

	// 9. Auth routes
	authHandler := auth.NewAuthHandler(rt.store, rt.registry, rt.pipeline, cfg.JWTSecret, cfg.AccessTokenTTL)
	auth.RegisterAuthRoutes(app, authHandler, session)

	// 10. Model, role and token management
	adminHandler := admin.NewHandler(rt.store, rt.pipeline, rt.rbac, instrument.NewEventHandler(events), cfg.APITokenSecret, cfg.APITokenTTL)
	admin.RegisterAdminRoutes(app, adminHandler, session)

	// 11. Content API over the dynamic registry
	protected := engine.ProtectedRole{Field: cfg.ProtectedRole.Field, Value: cfg.ProtectedRole.Value}
	engineHandler := engine.NewHandler(rt.store, rt.registry, rt.rbac, rt.publisher, protected)
	engine.RegisterContentRoutes(app, engineHandler, session, apiToken)

	// 12. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	return app.Listen(addr)
}
