package reproapp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"splitquery-repro/internal/config"
	"splitquery-repro/internal/dbexec"
	"splitquery-repro/internal/logging"
	"splitquery-repro/internal/observability"
)

const pingTimeout = 10 * time.Second

// InitLogger builds the process logger, adding OTLP export when enabled.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:       cfg.Observability.Logging.Level,
		Format:      cfg.Observability.Logging.Format,
		ServiceName: cfg.Observability.ServiceName,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(context.Background(), observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		OTLPConfig:     exporterConfig(logsConfig),
	})
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	return logger, loggerProvider, nil
}

func exporterConfig(cfg config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:    cfg.Endpoint,
		Protocol:    cfg.Protocol,
		Insecure:    cfg.Insecure,
		CAFile:      cfg.TLSCertFile,
		Headers:     cfg.Headers,
		Timeout:     cfg.Timeout,
		Compression: cfg.Compression,
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger, runID string) (*observability.MeterProvider, *observability.QueryMetrics, *observability.HarnessMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		RunID:          runID,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	queryMetrics, err := observability.InitQueryMetrics()
	if err != nil {
		return nil, nil, nil, err
	}
	harnessMetrics, err := observability.InitHarnessMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, err
	}

	logger.Debug("OpenTelemetry metrics initialized")
	return meterProvider, queryMetrics, harnessMetrics, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger, runID string) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	return observability.InitTracerProvider(ctx, observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		RunID:            runID,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig:       exporterConfig(tracesConfig),
	})
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dbexec.Handle, error) {
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}
	dsn, err := cfg.Database.DSN()
	if err != nil {
		return nil, err
	}

	handle, err := dbexec.Open(dbexec.OpenOptions{
		Driver:      cfg.Database.Driver,
		DSN:         dsn,
		Tracing:     cfg.Observability.TracingEnabled,
		Metrics:     cfg.Observability.MetricsEnabled,
		MaxOpen:     cfg.Database.Pool.MaxOpen,
		MaxIdle:     cfg.Database.Pool.MaxIdle,
		MaxLifetime: cfg.Database.Pool.MaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := handle.DB.PingContext(pingCtx); err != nil {
		_ = handle.Close()
		return nil, err
	}

	logger.Info("connected to store",
		slog.String("driver", cfg.Database.Driver),
		slog.Int("pool_max_open", handle.DB.Stats().MaxOpenConnections),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return handle, nil
}
