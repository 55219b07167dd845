// Command harnessd serves loopback runs over gRPC and HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/GoSim-25-26J-441/loopback-harness/internal/fixture"
	"github.com/GoSim-25-26J-441/loopback-harness/internal/harnessd"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/config"
	"github.com/GoSim-25-26J-441/loopback-harness/pkg/logger"
)

func main() {
	var (
		configPath string
		grpcAddr   string
		httpAddr   string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "harness config file (YAML)")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (overrides config)")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	cfg := config.DefaultHarnessConfig()
	if configPath != "" {
		loaded, err := config.LoadHarnessConfig(configPath)
		if err != nil {
			logger.Error("failed to load config", "path", configPath, "error", err)
			os.Exit(2)
		}
		cfg = loaded
	}
	if grpcAddr != "" {
		cfg.GRPCAddr = grpcAddr
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := config.ValidateHarnessConfig(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	logger.SetDefault(logger.NewWithFormat(cfg.LogFormat, cfg.LogLevel, os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	opts := fixture.OptionsFromConfig(cfg.Fixture)
	opts.Logger = logger.Default
	opts.LoggerFactory = logger.PionFactory(cfg.LogLevel, os.Stdout)

	store := harnessd.NewRunStore()
	executor := harnessd.NewRunExecutor(store, fixture.NewFactory(opts), harnessd.NewNotifier(cfg.Notify), cfg.MaxRuns)

	// TODO: Configure gRPC server security (TLS, authentication) before
	// exposing the daemon outside a test network.
	grpcServer := grpc.NewServer()
	harnessd.RegisterHarnessServiceServer(grpcServer, harnessd.NewHarnessGRPCServer(store, executor))

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC", "addr", cfg.GRPCAddr, "error", err)
		stop()
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           harnessd.NewHTTPServer(store, executor).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "error", err)
			stop()
		}
	}()

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Error("runs did not stop in time", "error", err)
	}
}
