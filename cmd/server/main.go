// Command keyhandoff-server serves the identity provider and the assertion verifier over gRPC.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/keyhandoff/internal/config"
	"github.com/and161185/keyhandoff/internal/limiter"
	"github.com/and161185/keyhandoff/internal/logging"
	"github.com/and161185/keyhandoff/internal/migrate"
	"github.com/and161185/keyhandoff/internal/replay"
	"github.com/and161185/keyhandoff/internal/repository/postgres"
	"github.com/and161185/keyhandoff/internal/rpc/handoffv1"
	grpcserver "github.com/and161185/keyhandoff/internal/server/grpc"
	"github.com/and161185/keyhandoff/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.ParseServer(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Dev: cfg.Dev})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = closer.Close() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = closer.Close()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Server, logger *zap.Logger) error {
	var opts []grpc.ServerOption
	if !cfg.Insecure {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("serving without TLS")
	}

	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	// Repositories
	userRepo := postgres.NewUserRepo(db)
	keyRepo := postgres.NewKeyRepo(db)

	lim := limiter.NewPG(db.Pool, limiter.Policy{
		Window:   cfg.LimitWindow,
		MaxFails: cfg.LimitMaxFails,
		BlockFor: cfg.LimitBlockFor,
	})

	var guard replay.Guard
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		guard = replay.NewRedis(rdb)
	} else {
		logger.Warn("replay guard is in-process; nonces are not shared across instances")
		guard = replay.NewMemory()
	}

	// Services
	provider := service.NewProviderService(userRepo, lim, service.LogCodeSender{Log: logger}, service.ProviderConfig{
		SignKey:     []byte(cfg.JWTKey),
		AccessTTL:   cfg.AccessTTL,
		CodeTTL:     cfg.CodeTTL,
		AutoConfirm: cfg.AutoConfirm,
	}, logger)
	verifier := service.NewVerifierService(userRepo, keyRepo, guard, service.VerifierConfig{
		Window: cfg.VerifyWindow,
		Skew:   cfg.VerifySkew,
	}, logger)

	app := grpcserver.New(provider, verifier, []byte(cfg.JWTKey), logger)

	// gRPC server with interceptors
	opts = append(opts, grpc.ChainUnaryInterceptor(
		grpcserver.RecoverUnary(logger),
		grpcserver.LoggingUnary(logger),
		app.AuthUnary(handoffv1.MethodRegisterAssociationKey, handoffv1.MethodUnregisterAssociationKey),
	))
	s := grpc.NewServer(opts...)
	handoffv1.RegisterHandoffServer(s, app)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(handoffv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", lis.Addr().String()), zap.Bool("tls", !cfg.Insecure))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
		return nil
	case err := <-errCh:
		return err
	}
}
