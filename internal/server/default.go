package server

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/agenthands/alignoracle/internal/config"
	"github.com/agenthands/alignoracle/internal/core"
	"github.com/agenthands/alignoracle/internal/metrics"
)

// NewDefault builds a server whose runs are wired from their configuration
// and report to a fresh registry with the Go and process collectors.
func NewDefault(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	factory := func(ctx context.Context, c *config.Config) (*core.Pipeline, error) {
		return core.New(ctx, c, core.WithLogger(logger), core.WithMetrics(m))
	}
	return NewServer(cfg, logger, reg, factory)
}
