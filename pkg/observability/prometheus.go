package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildPrometheusMeterProvider wires an OTel Prometheus exporter (which
// registers itself as a collector on its own registry) behind a dedicated
// promhttp scrape endpoint, for deployments that pull metrics rather than
// push them over OTLP.
func buildPrometheusMeterProvider(addr string, res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, shutdownFunc, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("observability: prometheus scrape server failed", "addr", addr, "error", err)
		}
	}()

	shutdown := func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), srv.Shutdown(ctx))
	}

	return mp, shutdown, nil
}
