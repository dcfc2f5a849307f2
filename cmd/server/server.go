package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"

	"github.com/KirkDiggler/rpg-encounters/internal/auth"
	"github.com/KirkDiggler/rpg-encounters/internal/broadcast"
	"github.com/KirkDiggler/rpg-encounters/internal/clients/character"
	"github.com/KirkDiggler/rpg-encounters/internal/clients/roster"
	"github.com/KirkDiggler/rpg-encounters/internal/config"
	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	v1alpha1 "github.com/KirkDiggler/rpg-encounters/internal/handlers/http/v1alpha1"
	healthmonitor "github.com/KirkDiggler/rpg-encounters/internal/health"
	"github.com/KirkDiggler/rpg-encounters/internal/orchestrators/encounter"
	"github.com/KirkDiggler/rpg-encounters/internal/pkg/idgen"
	"github.com/KirkDiggler/rpg-encounters/internal/redis"
	"github.com/KirkDiggler/rpg-encounters/internal/repositories/encounters"
	"github.com/KirkDiggler/rpg-encounters/internal/repositories/events"
)

const shutdownTimeout = 30 * time.Second

var (
	httpAddr  string
	grpcPort  int
	redisAddr string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the encounter server",
	Long: `Start the HTTP API and event stream, plus the gRPC health port.
Configuration comes from the environment; flags override it.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	serverCmd.Flags().IntVar(&grpcPort, "grpc-port", 0, "gRPC health port (overrides GRPC_PORT)")
	serverCmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address (overrides REDIS_ADDR)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("http-addr") {
		cfg.HTTPAddr = httpAddr
	}
	if cmd.Flags().Changed("grpc-port") {
		cfg.GRPCPort = grpcPort
	}
	if cmd.Flags().Changed("redis-addr") {
		cfg.RedisAddr = redisAddr
	}
	return cfg, cfg.Validate()
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.NewClient(cfg.RedisAddr, &redis.Options{PoolSize: cfg.RedisPoolSize})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	healthServer := health.NewServer()
	monitor, err := healthmonitor.NewMonitor(&healthmonitor.MonitorConfig{
		Client: redisClient,
		Server: healthServer,
	})
	if err != nil {
		return fmt.Errorf("failed to create health monitor: %w", err)
	}

	handler, err := buildHandler(cfg, redisClient, monitor)
	if err != nil {
		return err
	}

	grpcServer := newGRPCServer(healthServer)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// request contexts outlive Shutdown for hijacked websocket streams; cancelling
	// baseCtx afterwards is what ends them
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	go monitor.Run(ctx)

	errChan := make(chan error, 2)
	go func() {
		slog.Info("grpc health server starting", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			errChan <- fmt.Errorf("grpc server failed: %w", err)
		}
	}()
	go func() {
		slog.Info("http server starting", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal, gracefully stopping")
	case err = <-errChan:
		slog.Error("server failed, shutting down", "error", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Warn("http shutdown incomplete", "error", shutdownErr)
	}
	cancelStreams()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-shutdownCtx.Done():
		slog.Warn("graceful shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	case <-stopped:
		slog.Info("server stopped gracefully")
	}

	return err
}

// buildHandler wires storage, clients and the orchestrator behind the HTTP API
func buildHandler(cfg *config.Config, redisClient redis.Client, monitor *healthmonitor.Monitor) (*v1alpha1.Handler, error) {
	eventLog, err := events.NewRedis(&events.RedisConfig{Client: redisClient})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create event log")
	}

	encounterRepo, err := encounters.NewRedis(&encounters.RedisConfig{
		Client:   redisClient,
		EventLog: eventLog,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create encounter repository")
	}

	rosterStore, err := roster.New(&roster.Config{Client: redisClient})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create roster client")
	}

	characterClient, err := character.New(&character.Config{
		BaseURL: cfg.CharacterServiceURL,
		Timeout: cfg.CharacterTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create character client")
	}

	hub, err := broadcast.New(&broadcast.Config{Buffer: cfg.SubscriberBuffer})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create broadcast hub")
	}

	encounterService, err := encounter.NewOrchestrator(&encounter.Config{
		Encounters:  encounterRepo,
		EventLog:    eventLog,
		Roster:      rosterStore,
		Characters:  characterClient,
		Hub:         hub,
		IDGenerator: idgen.NewUUID(""),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create encounter orchestrator")
	}

	verifier, err := auth.NewVerifier(&auth.Config{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		Leeway: 30 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create token verifier")
	}

	return v1alpha1.NewHandler(&v1alpha1.HandlerConfig{
		EncounterService: encounterService,
		Verifier:         verifier,
		Health:           monitor,
		PingInterval:     cfg.StreamPingInterval,
	})
}

func newGRPCServer(healthServer *health.Server) *grpc.Server {
	logger := grpc_logging.LoggerFunc(logFunc)
	recoveryOpt := grpc_recovery.WithRecoveryHandlerContext(func(ctx context.Context, p any) error {
		slog.ErrorContext(ctx, "panic in grpc handler", "panic", p)
		return errors.ToGRPCError(errors.Internal("internal error"))
	})

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc_logging.UnaryServerInterceptor(logger),
			grpc_recovery.UnaryServerInterceptor(recoveryOpt),
		),
		grpc.ChainStreamInterceptor(
			grpc_logging.StreamServerInterceptor(logger),
			grpc_recovery.StreamServerInterceptor(recoveryOpt),
		),
	)

	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	reflection.Register(srv)
	return srv
}

// logFunc bridges go-grpc-middleware logging into slog; the levels line up
func logFunc(ctx context.Context, level grpc_logging.Level, msg string, fields ...any) {
	slog.Default().Log(ctx, slog.Level(level), msg, fields...)
}
