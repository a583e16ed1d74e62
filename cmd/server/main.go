// Command server runs the Sandbox Session Broker HTTP API: it wires the
// Identity Verifier, Metadata Client, Orchestrator Adapter, Port Allocator,
// Instance Manager, Session Registry, Workspace Materializer, Run
// Coordinator, and PTY Broker behind the Gin router in internal/httpapi,
// and serves them with a graceful-shutdown http.Server, grounded on the
// teacher's cmd/main.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/jaewoo-rain/webide-broker/internal/auth"
	"github.com/jaewoo-rain/webide-broker/internal/cache"
	"github.com/jaewoo-rain/webide-broker/internal/config"
	"github.com/jaewoo-rain/webide-broker/internal/events"
	"github.com/jaewoo-rain/webide-broker/internal/httpapi"
	"github.com/jaewoo-rain/webide-broker/internal/instances"
	"github.com/jaewoo-rain/webide-broker/internal/logger"
	"github.com/jaewoo-rain/webide-broker/internal/metadataclient"
	"github.com/jaewoo-rain/webide-broker/internal/orchestrator"
	"github.com/jaewoo-rain/webide-broker/internal/ports"
	"github.com/jaewoo-rain/webide-broker/internal/ptybroker"
	"github.com/jaewoo-rain/webide-broker/internal/runcoordinator"
	"github.com/jaewoo-rain/webide-broker/internal/sessions"
	"github.com/jaewoo-rain/webide-broker/internal/workspace"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.Log

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET must be set")
	}

	adapter, err := newOrchestratorAdapter(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.OrchestratorBackend).Msg("failed to initialize orchestrator adapter")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	metadata := metadataclient.New(cfg.MetadataBaseURL, cfg.MetadataTimeout)
	allocator := ports.New(cfg.AllowedNoVNCPorts)

	redisCache := cache.New(cfg.RedisAddr)
	defer redisCache.Close()
	if redisCache.IsEnabled() {
		log.Info().Str("addr", cfg.RedisAddr).Msg("instance count cache enabled")
	} else {
		log.Info().Msg("instance count cache disabled (REDIS_ADDR unset)")
	}

	publisher := events.NewPublisher(cfg.NATSUrl)
	defer publisher.Close()

	manager := instances.New(instances.Config{
		Adapter:      adapter,
		Metadata:     metadata,
		Allocator:    allocator,
		Cache:        redisCache,
		Publisher:    publisher,
		VNCImage:     cfg.VNCImage,
		EnvDefault:   cfg.ContainerEnvDefault,
		InternalPort: cfg.InternalNoVNCPort,
		FreeMax:      cfg.FreeMaxContainers,
	})

	registry := sessions.New()
	materializer := workspace.New(adapter, cfg.Workspace)
	coordinator := runcoordinator.New(adapter, registry, materializer, cfg.PythonPath, cfg.Workspace)
	broker := ptybroker.New(adapter, registry, publisher, []string{"/bin/bash"}, cfg.VenvPath)

	router := httpapi.NewRouter(httpapi.Config{
		Verifier:     verifier,
		Manager:      manager,
		Materializer: materializer,
		Coordinator:  coordinator,
		Broker:       broker,
		Adapter:      adapter,
		VNCPassword:  cfg.VNCPassword,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.APIPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("api server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	} else {
		log.Info().Msg("http server stopped gracefully")
	}
}

// newOrchestratorAdapter selects the Docker or Kubernetes Orchestrator
// Adapter variant per ORCHESTRATOR_BACKEND (spec.md §4.3), mirroring the
// teacher's NewDockerAgent / internal/k8s.NewClient connection setup.
func newOrchestratorAdapter(cfg *config.Config) (orchestrator.Adapter, error) {
	switch cfg.OrchestratorBackend {
	case "docker":
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("failed to create docker client: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := cli.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach docker daemon: %w", err)
		}
		return orchestrator.NewDockerAdapter(cli, cfg.DockerNetwork), nil

	case "kubernetes":
		restCfg, err := kubernetesRestConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
		}
		return orchestrator.NewKubernetesAdapter(clientset, restCfg, cfg.K8sNamespace), nil

	default:
		return nil, fmt.Errorf("unknown ORCHESTRATOR_BACKEND %q (want docker or kubernetes)", cfg.OrchestratorBackend)
	}
}

func kubernetesRestConfig() (*rest.Config, error) {
	if restCfg, err := rest.InClusterConfig(); err == nil {
		return restCfg, nil
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}
