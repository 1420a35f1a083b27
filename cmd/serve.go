package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/clawden/internal/audit"
	"github.com/nextlevelbuilder/clawden/internal/bus"
	"github.com/nextlevelbuilder/clawden/internal/config"
	"github.com/nextlevelbuilder/clawden/internal/dispatch"
	"github.com/nextlevelbuilder/clawden/internal/gateway"
	"github.com/nextlevelbuilder/clawden/internal/proxy"
	"github.com/nextlevelbuilder/clawden/internal/router"
	"github.com/nextlevelbuilder/clawden/internal/sandbox"
	"github.com/nextlevelbuilder/clawden/internal/scanner"
	"github.com/nextlevelbuilder/clawden/internal/scheduler"
	"github.com/nextlevelbuilder/clawden/internal/schema"
	"github.com/nextlevelbuilder/clawden/internal/store"
	"github.com/nextlevelbuilder/clawden/internal/taint"
	"github.com/nextlevelbuilder/clawden/internal/tools"
	"github.com/nextlevelbuilder/clawden/internal/workspace"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the host: gateway, dispatcher, credential proxy and scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(cfgFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Credentials.APIKey == "" && cfg.Credentials.OAuthToken == "" {
		slog.Warn("no upstream credentials configured; llm_call and the proxy will fail",
			"hint", config.EnvAPIKey+" or "+config.EnvOAuthToken)
	}

	ws, err := workspace.NewManager(cfg.Home)
	if err != nil {
		slog.Error("failed to resolve workspace root", "error", err)
		os.Exit(1)
	}
	dataDir, err := ws.DataDir()
	if err != nil {
		slog.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(filepath.Join(dataDir, "clawden.db"))
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	auditor, err := audit.Open(filepath.Join(dataDir, "audit.db"), cfg.Security.AuditMaxRows)
	if err != nil {
		slog.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer auditor.Close()

	sb, err := sandbox.NewManager(cfg.Sandbox.Backend, cfg.Sandbox.Image)
	if err != nil {
		slog.Error("failed to select sandbox backend", "error", err)
		os.Exit(1)
	}
	slog.Info("sandbox.selected", "backend", sb.Backend())

	budget := taint.NewBudget(cfg.Security.TaintThreshold, cfg.Security.GatedActions)
	queue := bus.NewQueue(64)
	rt := router.New(scanner.New(cfg.Security.ScannerThreshold), budget, auditor, queue, st)

	registry, err := schema.Default()
	if err != nil {
		slog.Error("failed to compile action schemas", "error", err)
		os.Exit(1)
	}
	disp := dispatch.NewServer(registry, budget, auditor, dispatch.Options{
		MaxDelegationDepth: cfg.Dispatcher.MaxDelegationDepth,
		MaxConcurrent:      cfg.Dispatcher.MaxConcurrent,
		CallTimeout:        cfg.Dispatcher.CallTimeout(),
	})

	llm := tools.NewLLMClient(cfg.Proxy.Socket, "")
	reg := tools.New(st, ws, auditor, budget, llm)
	reg.RegisterAll(disp)
	defer reg.Close()

	prx, err := proxy.New(cfg.Proxy.UpstreamBaseURL, cfg.Credentials)
	if err != nil {
		slog.Error("failed to build credential proxy", "error", err)
		os.Exit(1)
	}

	gw := gateway.New(cfg, rt, queue, st, ws, sb, disp)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return prx.Listen(ctx, cfg.Proxy.Socket) })
	g.Go(func() error { return gw.Listen(ctx) })
	g.Go(func() error { return gw.Run(ctx) })

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler, st, rt, auditor, ws, cfg.Agent.DefaultID)
		if err != nil {
			slog.Error("failed to build scheduler", "error", err)
			os.Exit(1)
		}
		reg.SetJobsChanged(func() { sched.JobsChanged(ctx) })
		g.Go(func() error { return sched.Run(ctx) })
	}

	slog.Info("clawden.started", "version", Version, "home", ws.Root())
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("clawden.stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("clawden.stopped")
}
