// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/DSGWJQ/Feagent-sub002/pkg/logging"
	backendopenai "github.com/DSGWJQ/Feagent-sub002/services/agentcore/backend/openai"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/config"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/events"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/handlers"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/observability"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/policy"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/react"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/resilience"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/session"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("agentcore-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func buildAuthority(cfg config.Config) policy.Authority {
	if cfg.Policy.AuthorityURL == "" {
		return nil
	}
	return policy.NewHTTPAuthority(cfg.Policy.AuthorityURL, cfg.Policy.Timeout)
}

func buildGateConfig(cfg config.Config) policy.GateConfig {
	gateCfg := policy.DefaultGateConfig()
	gateCfg.FailClosed = cfg.Policy.FailClosedEnabled()
	if len(cfg.Policy.SupervisedTypes) > 0 {
		types := make([]datatypes.DecisionType, 0, len(cfg.Policy.SupervisedTypes))
		for _, t := range cfg.Policy.SupervisedTypes {
			types = append(types, datatypes.DecisionType(t))
		}
		gateCfg.SupervisedTypes = types
	}
	return gateCfg
}

func main() {
	logging.New(logging.Config{
		Level:  os.Getenv("AGENTCORE_LOG_LEVEL"),
		Format: logging.Format(os.Getenv("AGENTCORE_LOG_FORMAT")),
	}).Install()

	cfg, err := config.Load(os.Getenv("AGENTCORE_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		HalfOpenRequests: cfg.Breaker.HalfOpenRequests,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	})

	gate := policy.NewGate(buildAuthority(cfg), buildGateConfig(cfg))
	publisher := events.NewPublisher()

	backend, err := backendopenai.New(backendopenai.Config{
		APIKey:           os.Getenv(cfg.Backend.APIKeyEnv),
		BaseURL:          cfg.Backend.BaseURL,
		Model:            cfg.Backend.Model,
		Temperature:      cfg.Backend.Temperature,
		CostPerKiloToken: cfg.Backend.CostPerKiloToken,
	})
	if err != nil {
		log.Fatalf("failed to initialize backend: %v", err)
	}

	engine := react.NewEngine(backend, breaker, gate,
		react.WithPublisher(publisher),
		react.WithMetrics(metrics),
		react.WithRespondOnly(cfg.Policy.RespondOnly),
	)

	server := handlers.NewServer(cfg, engine, session.NewStore(), metrics)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("agentcore-service"))

	server.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"breaker": breaker.State().String(),
		})
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("Starting agent core server", slog.String("addr", cfg.Server.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		slog.Info("Shutting down agent core server")
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
