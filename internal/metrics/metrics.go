// Package metrics exposes session counters and timings in Prometheus form.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rbright/parley/internal/bedrock"
)

const namespace = "parley"

// Turn outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeExceeded = "tool_loop_exceeded"
	OutcomeFailed   = "failed"
	OutcomeAborted  = "aborted"
)

// Collector owns a private registry so tests and multiple sessions never
// collide on the default one.
type Collector struct {
	registry *prometheus.Registry

	turns          *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	modelCalls     *prometheus.CounterVec
	modelDuration  *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	playbacks      *prometheus.CounterVec
	restarts       prometheus.Counter
	synthesisFails prometheus.Counter
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversational turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from final transcript to listening again.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		modelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_invocations_total",
			Help:      "Model stream invocations by model and status.",
		}, []string{"model", "status"}),
		modelDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_invocation_duration_seconds",
			Help:      "Time to consume one model response stream.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and result.",
		}, []string{"tool", "result"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		playbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playbacks_total",
			Help:      "Speech playbacks by final state.",
		}, []string{"state"}),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_restarts_total",
			Help:      "Recognition session restarts after stream failures.",
		}),
		synthesisFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_failures_total",
			Help:      "Speech synthesis requests that produced no audio.",
		}),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WatchDropped exports a counter read from fn at scrape time.
func (c *Collector) WatchDropped(fn func() int64) error {
	return c.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcripts_dropped_total",
		Help:      "Recognition events discarded while a turn was in flight.",
	}, func() float64 { return float64(fn()) }))
}

// ModelInvoked records one model stream.
func (c *Collector) ModelInvoked(modelID string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = bedrock.Classify(err)
	}
	c.modelCalls.WithLabelValues(modelID, status).Inc()
	c.modelDuration.WithLabelValues(modelID).Observe(elapsed.Seconds())
}

// ToolExecuted records one tool round.
func (c *Collector) ToolExecuted(name string, elapsed time.Duration, isError bool) {
	result := "ok"
	if isError {
		result = "error"
	}
	c.toolCalls.WithLabelValues(name, result).Inc()
	c.toolDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (c *Collector) TurnFinished(outcome string, elapsed time.Duration) {
	c.turns.WithLabelValues(outcome).Inc()
	c.turnDuration.Observe(elapsed.Seconds())
}

func (c *Collector) PlaybackFinished(state string) {
	c.playbacks.WithLabelValues(state).Inc()
}

func (c *Collector) SynthesisFailed() {
	c.synthesisFails.Inc()
}

func (c *Collector) SessionRestarted() {
	c.restarts.Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return c.serve(ctx, listener, logger)
}

func (c *Collector) serve(ctx context.Context, listener net.Listener, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry}))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.Info("metrics listener started", "addr", listener.Addr().String())
	}
	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
