// Package oplog adapts market operation logs to zap and Prometheus.
package oplog

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const metricsNamespace = "berth"

// ZapLogger writes operation logs as structured zap entries.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps a zap logger; a nil logger discards entries.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("market")}
}

// LogOperation implements market.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(ctx context.Context, entry market.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("user_id", entry.UserID.String()),
		zap.String("listing_id", entry.ListingID.String()),
		zap.Int64("amount_minor", entry.Amount.Int64()),
	}
	if entry.Units > 0 {
		fields = append(fields, zap.Int("units", entry.Units))
	}
	if entry.Reference != "" {
		fields = append(fields, zap.String("reference", entry.Reference))
	}
	if entry.Reason != market.ReasonNone {
		fields = append(fields, zap.String("reason", entry.Reason.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	zapLogger.logger.Log(levelFor(entry.Status), "market operation", fields...)
}

func levelFor(status string) zapcore.Level {
	switch status {
	case market.OperationStatusOrphaned, market.OperationStatusError:
		return zapcore.ErrorLevel
	case market.OperationStatusRejected:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Metrics counts operations by outcome.
type Metrics struct {
	operations *prometheus.CounterVec
	orphans    prometheus.Counter
}

// NewMetrics registers the operation collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		return nil, fmt.Errorf("oplog: registerer is nil")
	}
	metrics := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Market operations by operation, status and reason.",
		}, []string{"operation", "status", "reason"}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "orphaned_charges_total",
			Help:      "Balance deductions that ended without a claim.",
		}),
	}
	for _, collector := range []prometheus.Collector{metrics.operations, metrics.orphans} {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("oplog: register collector: %w", err)
		}
	}
	return metrics, nil
}

// LogOperation implements market.OperationLogger.
func (metrics *Metrics) LogOperation(ctx context.Context, entry market.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Status, entry.Reason.String()).Inc()
	if entry.Status == market.OperationStatusOrphaned {
		metrics.orphans.Inc()
	}
}

type fanout []market.OperationLogger

// Fanout delivers every entry to each non-nil logger in order.
func Fanout(loggers ...market.OperationLogger) market.OperationLogger {
	combined := make(fanout, 0, len(loggers))
	for _, logger := range loggers {
		if logger != nil {
			combined = append(combined, logger)
		}
	}
	return combined
}

func (loggers fanout) LogOperation(ctx context.Context, entry market.OperationLog) {
	for _, logger := range loggers {
		logger.LogOperation(ctx, entry)
	}
}
