package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/agents"
	"github.com/ahmetk3436/autoremedy/internal/ai"
	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/config"
	"github.com/ahmetk3436/autoremedy/internal/crypto"
	"github.com/ahmetk3436/autoremedy/internal/database"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/executor"
	"github.com/ahmetk3436/autoremedy/internal/handlers"
	"github.com/ahmetk3436/autoremedy/internal/metrics"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/policy"
	"github.com/ahmetk3436/autoremedy/internal/routes"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const devEncryptionKey = "0000000000000000000000000000000000000000000000000000000000000000"

func serve(parent context.Context, cfg *config.Config) error {
	setupLogging(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.Info("Starting autoremedy", "version", handlers.Version, "store", cfg.StoreDriver)

	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Storage ────────────────────────────────────────────────────────
	var (
		st   store.Store
		db   *gorm.DB
		ping handlers.Pinger
	)
	switch cfg.StoreDriver {
	case "memory":
		slog.Warn("Using in-memory store, state is lost on restart")
		st = store.NewMemoryStore()
	case "postgres":
		var err error
		if db, err = database.Connect(cfg); err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		st = store.NewGormStore(db)
		ping = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	// ─── Encryption ─────────────────────────────────────────────────────
	key := cfg.EncryptionKey
	if key == "" {
		slog.Warn("ENCRYPTION_KEY not set, connection credentials use a development key")
		key = devEncryptionKey
	}
	encryptor, err := crypto.NewEncryptor(key)
	if err != nil {
		return fmt.Errorf("create encryptor: %w", err)
	}

	// ─── Command Executor ───────────────────────────────────────────────
	registry := executor.NewPersistentRegistry(st, encryptor)
	if err := registry.Load(ctx); err != nil {
		slog.Error("Failed to load stored connections", "error", err)
	}
	sshTransport := executor.NewSSHTransport()
	exec := executor.New(registry, map[string]executor.Transport{
		models.ConnSSH:   sshTransport,
		models.ConnWinRM: executor.WinRMTransport{},
		models.ConnAPI:   executor.NewRESTTransport(),
		models.ConnLocal: executor.LocalTransport{},
	})
	slog.Info("Connections loaded", "count", registry.Len())

	// ─── Metrics ────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// ─── Inference ──────────────────────────────────────────────────────
	usage := ai.NewUsageTracker(metrics.ObserveAICall)
	var inference ai.Inference = ai.Disabled{}
	if client, err := ai.NewOpenAIClient(ai.OpenAIConfig{
		APIKey:            cfg.AIAPIKey,
		BaseURL:           cfg.AIAPIURL,
		Model:             cfg.AIModel,
		Timeout:           cfg.AITimeout,
		RequestsPerMinute: cfg.AIRequestsPerMinute,
	}, usage); err != nil {
		slog.Warn("Inference disabled, using rule-based fallbacks", "error", err)
	} else {
		inference = client
		slog.Info("Inference enabled", "model", cfg.AIModel, "url", cfg.AIAPIURL)
	}

	// ─── Policy ─────────────────────────────────────────────────────────
	policies, err := policy.NewStore(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	hub := events.NewHub()
	recorder := audit.NewRecorder(st)
	policies.OnReload(func(p *policy.Policy) {
		recorder.Record(context.Background(), audit.Entry{
			AgentID:  "policy",
			Action:   audit.PolicyReloaded,
			Details:  "policy reloaded from " + policies.Path(),
			Metadata: map[string]interface{}{"templates": len(p.Templates), "rules": len(p.Rules)},
		})
		hub.Publish(events.PolicyReloaded, map[string]interface{}{"path": policies.Path(), "reloads": policies.Reloads()})
	})

	// ─── Agents ─────────────────────────────────────────────────────────
	pipeline, err := agents.NewPipeline(cfg, agents.Deps{
		Store:  st,
		Policy: policies,
		Events: hub,
		AI:     inference,
	}, exec)
	if err != nil {
		return err
	}

	// ─── Handlers ───────────────────────────────────────────────────────
	h := routes.Handlers{
		Auth:        handlers.NewAuthHandler(cfg),
		System:      handlers.NewSystemHandler(st, ping, usage),
		Servers:     handlers.NewServerHandler(st, pipeline.Collector),
		Remediation: handlers.NewRemediationHandler(st, pipeline.Remediator),
		Workflows:   handlers.NewWorkflowHandler(st, pipeline.Engine),
		Agents:      handlers.NewAgentHandler(pipeline.Manager),
		Audit:       handlers.NewAuditHandler(st),
		Connections: handlers.NewConnectionHandler(st, registry),
		Events:      handlers.NewEventHandler(hub),
	}
	app := newApp()
	routes.Setup(app, cfg.JWTSecret, h)

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ─── Start ──────────────────────────────────────────────────────────
	if err := pipeline.Manager.StartAll(ctx); err != nil {
		slog.Error("Some agents failed to start", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		listenAddr := ":" + cfg.Port
		slog.Info("API listening", "addr", listenAddr)
		return app.Listen(listenAddr)
	})
	g.Go(func() error {
		slog.Info("Metrics listening", "addr", cfg.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := policies.Watch(gctx); err != nil {
			slog.Error("Policy watcher stopped", "error", err)
		}
		return nil
	})

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down autoremedy...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pipeline.Manager.StopAll(shutdownCtx); err != nil {
			slog.Error("Agent shutdown error", "error", err)
		}
		sshTransport.CloseAll()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			slog.Error("Fiber shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics shutdown error", "error", err)
		}
		if db != nil {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return nil
	})

	return g.Wait()
}

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "autoremedy v" + handlers.Version,
		ServerHeader: "autoremedy",
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": message,
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	// Security headers
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" {
			return err
		}
		slog.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)
		return err
	})

	return app
}
