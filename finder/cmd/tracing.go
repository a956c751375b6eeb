package cmd

import (
	"context"
	"os"
	"time"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
)

// initTracing exports spans when OTEL_EXPORTER_OTLP_ENDPOINT is set. The
// returned function flushes and stops the exporter; it is a no-op when
// tracing is disabled.
func initTracing(ctx context.Context) (func(context.Context) error, error) {
	if len(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")) == 0 {
		return func(context.Context) error { return nil }, nil
	}

	tpShutdownFn, err := tracing.InitTracer(ctx,
		&tracing.TracerConfig{
			ServiceName: "psbox",
		},
	)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		logger.FromContext(ctx).Debug("shutting down trace provider")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return tpShutdownFn(shutdownCtx)
	}, nil
}
