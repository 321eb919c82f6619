package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/parcel-matching/internal/config"
	"github.com/example/parcel-matching/internal/events"
	"github.com/example/parcel-matching/internal/lifecycle"
	"github.com/example/parcel-matching/internal/logging"
	"github.com/example/parcel-matching/internal/storage"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_events_consumed_total",
		Help: "Total lifecycle events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_events_invalid_total",
		Help: "Total undecodable events received",
	})
	reconcileOK = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_reconcile_success_total",
		Help: "Total matches driven to completion of the proposal saga",
	})
	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_reconcile_errors_total",
		Help: "Total reconcile attempts that exhausted their retries",
	})
	sweepRepaired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_sweep_repaired_total",
		Help: "Total matches repaired by the periodic sweep",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, reconcileOK, reconcileErrors, sweepRepaired)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		store = pg
	} else {
		logger.Warn("no PG_DSN set, reconciling against an in-memory store")
		store = storage.NewMemoryStore()
	}

	coord := lifecycle.NewCoordinator(store, logger)
	coord.Retry = lifecycle.RetryPolicy{Attempts: cfg.SagaRetryAttempts, BaseDelay: cfg.SagaRetryBaseDelay}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// periodic sweep: catches partial matches whose event was lost
	go func() {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := coord.ReconcileAll(ctx)
				if err != nil {
					logger.Error("sweep failed", "error", err)
					continue
				}
				if n > 0 {
					sweepRepaired.Add(float64(n))
					logger.Info("sweep repaired matches", "count", n)
				}
			}
		}
	}()

	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("no kafka brokers configured, running sweep-only")
		<-ctx.Done()
		return
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() { _ = r.Close() }()

	logger.Info("reconciler listening",
		"topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down reconciler")
				return
			}
			logger.Error("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		eventsConsumed.Inc()

		var env events.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			eventsInvalid.Inc()
			logger.Error("invalid event", "error", err)
			continue
		}
		if env.Type != lifecycle.EventMatchPartial {
			continue
		}
		var ev lifecycle.MatchEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			eventsInvalid.Inc()
			logger.Error("invalid event payload", "error", err)
			continue
		}

		if err := reconcileWithRetry(ctx, coord, ev.MatchID, 3, 200*time.Millisecond); err != nil {
			reconcileErrors.Inc()
			logger.Error("reconcile failed", "match_id", ev.MatchID, "error", err)
			continue
		}
		reconcileOK.Inc()
		logger.Info("match reconciled", "match_id", ev.MatchID)
	}
}

// Reconciler is the subset of the coordinator the event loop needs.
type Reconciler interface {
	Reconcile(ctx context.Context, matchID string) error
}

// reconcileWithRetry drives one partial match forward with exponential
// backoff between attempts.
func reconcileWithRetry(ctx context.Context, rec Reconciler, matchID string, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = rec.Reconcile(ctx, matchID); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
