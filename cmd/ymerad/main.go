// Command ymerad is the YMERA Agent Control Plane daemon: it wires the
// registry (C2), discovery (C3), orchestrator (C4), workflow engine (C5),
// agent manager (C6), knowledge store (C7), event bus (C8), and the
// Postgres-backed audit log into one running process and serves agent
// adapters (in-process, HTTP, WebSocket) over them.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ymera-labs/ymera/adapter"
	"github.com/ymera-labs/ymera/agentmanager"
	"github.com/ymera-labs/ymera/auditlog"
	"github.com/ymera-labs/ymera/breaker"
	"github.com/ymera-labs/ymera/core"
	"github.com/ymera-labs/ymera/discovery"
	"github.com/ymera-labs/ymera/eventbus"
	"github.com/ymera-labs/ymera/knowledge"
	"github.com/ymera-labs/ymera/orchestrator"
	"github.com/ymera-labs/ymera/registry"
	"github.com/ymera-labs/ymera/telemetry"
	"github.com/ymera-labs/ymera/workflow"
)

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()

	tracingShutdown, err := telemetry.InitTracing(cfg.Name, os.Stderr)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received", nil)
		cancel()
	}()

	var pool *pgxpool.Pool
	if cfg.Postgres.DSN != "" {
		pgCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("postgres: parse dsn: %v", err)
		}
		pgCfg.MaxConns = cfg.Postgres.MaxConns
		pgCfg.ConnConfig.ConnectTimeout = cfg.Postgres.ConnectTimeout
		pool, err = pgxpool.NewWithConfig(ctx, pgCfg)
		if err != nil {
			log.Fatalf("postgres: connect: %v", err)
		}
		defer pool.Close()
	} else {
		logger.Warn("no postgres DSN configured: audit log and task/workflow mirrors are disabled", nil)
	}

	var fanout eventbus.Fanout
	if cfg.NATS.Enabled {
		nf, err := eventbus.DialNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			logger.Warn("nats fanout unavailable, continuing without it", map[string]interface{}{"error": err.Error()})
		} else {
			fanout = nf
		}
	}
	bus := eventbus.New(eventbus.Config{Logger: logger, Fanout: fanout})
	defer bus.Close() // closes the NATS fanout too, since it owns the Fanout field

	var durableLog core.DurableLog
	var taskStore orchestrator.TaskStore
	var execStore workflow.ExecutionStore
	if pool != nil {
		pg := auditlog.New(pool, auditlog.WithLogger(logger), auditlog.WithFanout(bus))
		durableLog = pg
		taskStore = orchestrator.NewPostgresTaskStore(pool, logger)
		execStore = workflow.NewPostgresExecutionStore(pool, logger)
	}

	reg := registry.New(registry.Config{
		HeartbeatTimeout:       cfg.Registry.HeartbeatTimeout,
		MaxConsecutiveFailures: cfg.Registry.MaxConsecutiveFailures,
		Logger:                 logger,
		AuditLog:               durableLog,
		Bus:                    bus,
	})
	go reg.Run(ctx, cfg.Registry.SweepInterval)

	if cfg.Redis.URL != "" {
		cache, err := registry.NewPresenceCache(cfg.Redis.URL, cfg.Redis.Namespace, cfg.Redis.TTL, logger)
		if err != nil {
			logger.Warn("presence cache unavailable, continuing without it", map[string]interface{}{"error": err.Error()})
		} else {
			defer cache.Close()
		}
	}

	disc := discovery.New(reg)

	breakerTemplate := breaker.DefaultConfig("")
	breakerTemplate.FailureThreshold = cfg.Breaker.FailureThreshold
	breakerTemplate.SuccessThreshold = cfg.Breaker.SuccessThreshold
	breakerTemplate.OpenTimeout = cfg.Breaker.OpenTimeout
	breakerTemplate.WindowSize = cfg.Breaker.WindowSize
	breakerTemplate.MinThroughput = cfg.Breaker.MinThroughput
	breakerTemplate.Logger = logger
	breakerTemplate.Metrics = breaker.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	breakers := breaker.NewRegistry(breakerTemplate)

	inproc := adapter.NewInProcess()
	httpAdapter := adapter.NewHTTP(telemetry.NewTracedHTTPClient(nil))
	wsAdapter := adapter.NewWebSocket()
	dispatch := adapter.NewMulti(inproc, httpAdapter, wsAdapter)

	orch := orchestrator.New(orchestrator.Config{
		WorkerCount:        cfg.Orchestrator.WorkerCount,
		MaxConcurrentTasks: cfg.Orchestrator.MaxConcurrentTasks,
		BlockOnSaturation:  cfg.Orchestrator.BlockOnSaturation,
		DefaultTimeout:     cfg.Orchestrator.DefaultTimeout,
		ShutdownTimeout:    cfg.Orchestrator.ShutdownTimeout,
		Logger:             logger,
		Discovery:          disc,
		Loads:              reg,
		Breakers:           breakers,
		Adapter:            dispatch,
		AuditLog:           durableLog,
		Bus:                bus,
		Store:              taskStore,
	})
	go orch.Run(ctx)

	engine := workflow.New(workflow.Config{
		Runner:   orch,
		Logger:   logger,
		Bus:      bus,
		AuditLog: durableLog,
		Store:    execStore,
	})

	kb := knowledge.New(knowledge.Config{
		Logger:   logger,
		Bus:      bus,
		AuditLog: durableLog,
	})

	jwtSecret := []byte(os.Getenv("YMERA_APPROVAL_JWT_SECRET"))
	manager := agentmanager.New(agentmanager.Config{
		Registry:     reg,
		Orchestrator: orch,
		Logger:       logger,
		AuditLog:     durableLog,
		Bus:          bus,
		JWTSecret:    jwtSecret,
	})

	admin := &adminServer{registry: reg, orch: orch, engine: engine, manager: manager, knowledge: kb}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		agentID := r.URL.Path[len("/ws/"):]
		wsAdapter.Handler(agentID)(w, r)
	})
	admin.routes(mux)

	srv := &http.Server{
		Addr:    listenAddr(),
		Handler: telemetry.TracingMiddleware(cfg.Name)(mux),
	}
	go func() {
		logger.Info("ymerad listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", err, nil)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Orchestrator.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", map[string]interface{}{"error": err.Error()})
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond) // let orchestrator.Run's own shutdown race settle
		close(done)
	}()
	<-done
	logger.Info("ymerad stopped", nil)
}

func listenAddr() string {
	if v := os.Getenv("YMERA_LISTEN_ADDR"); v != "" {
		return v
	}
	return ":8080"
}
