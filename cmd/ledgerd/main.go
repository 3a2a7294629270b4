// Package main runs a ledger node: contract host, event stores and sinks,
// genesis deployment, and the HTTP surface (/rpc, /ws, /metrics, /health, /status).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ambar-ledger/internal/config"
	"ambar-ledger/internal/events"
	"ambar-ledger/internal/exchange"
	"ambar-ledger/internal/identity"
	"ambar-ledger/internal/observability"
	"ambar-ledger/internal/oracle"
	"ambar-ledger/internal/rpc"
	"ambar-ledger/internal/runtime"
	"ambar-ledger/internal/storage"
	"ambar-ledger/internal/storage/boltdb"
	chstore "ambar-ledger/internal/storage/clickhouse"
	"ambar-ledger/internal/storage/memory"
	pgstore "ambar-ledger/internal/storage/postgres"
	"ambar-ledger/internal/token"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := config.DefaultNode()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	logger := observability.NewLogger("ledgerd", cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Received signal, initiating graceful shutdown")
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("Received second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn().Msg("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		}
	}()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Node error")
	}
	logger.Info().Msg("Shutdown complete")
}

// node holds the running components.
type node struct {
	host       *runtime.Host
	deployment *config.Deployment
	broker     *events.Broker
	started    time.Time
}

func run(ctx context.Context, cfg config.Node, logger zerolog.Logger) error {
	metrics := observability.NewMetrics("ambar_ledger", nil)

	stores, err := openStores(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer stores.close()

	broker := events.NewBroker(cfg.SubscriberBuffer)
	broker.OnChange = metrics.AddSubscribers
	defer broker.Close()

	sinks := []events.NamedSink{{Name: "broker", Sink: broker}}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafka.Close()
		sinks = append(sinks, events.NamedSink{Name: "kafka", Sink: kafka})
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Kafka sink enabled")
	}
	fanout := events.NewFanout(stores.events, logger, metrics, sinks...)

	host := runtime.NewHost(stores.kv, runtime.Options{
		Logger:  logger,
		Metrics: metrics,
		Sink:    fanout,
	}, oracle.New(), token.New(), exchange.New())

	// Batches committed before a crash are still in the event log.
	if err := host.Flush(ctx); err != nil {
		logger.Warn().Err(err).Msg("Undelivered events remain after startup")
	}
	go redeliver(ctx, host, logger)

	n := &node{host: host, broker: broker, started: time.Now()}
	if cfg.GenesisPath != "" {
		if n.deployment, err = applyGenesis(ctx, cfg, host, logger); err != nil {
			return err
		}
	}
	if seq, err := host.Sequence(ctx); err == nil {
		metrics.SetSequence(seq)
	}

	mux := http.NewServeMux()
	rpc.NewServer(host, rpc.Options{
		Store:   stores.events,
		Broker:  broker,
		Logger:  logger,
		Metrics: metrics,
	}).Register(mux)
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /status", n.handleStatus)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	broker.Close()
	return srv.Shutdown(shutdownCtx)
}

// redeliver retries event delivery that failed after a commit.
func redeliver(ctx context.Context, host *runtime.Host, logger zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := host.Flush(ctx); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Event redelivery failed")
			}
		}
	}
}

func applyGenesis(ctx context.Context, cfg config.Node, host *runtime.Host, logger zerolog.Logger) (*config.Deployment, error) {
	g, err := config.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		return nil, err
	}
	operator, err := identity.ParseSecret(cfg.OperatorKey)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	applier := &config.Applier{Host: host, Operator: operator, Logger: logger}
	return applier.Apply(ctx, g)
}

// stores holds the opened storage backends.
type stores struct {
	kv      storage.KVStore
	events  storage.EventStore
	closers []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg config.Node, metrics *observability.Metrics) (*stores, error) {
	s := &stores{}
	var pool *pgstore.Pool
	postgresPool := func() (*pgstore.Pool, error) {
		if pool != nil {
			return pool, nil
		}
		p, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := p.Migrate(ctx); err != nil {
			p.Close()
			return nil, err
		}
		pool = p
		s.closers = append(s.closers, p.Close)
		return p, nil
	}

	switch cfg.KVBackend {
	case config.BackendMemory:
		s.kv = memory.NewKVStore()
	case config.BackendBolt:
		kv, err := boltdb.Open(cfg.BoltDir)
		if err != nil {
			return nil, err
		}
		s.kv = kv
	case config.BackendPostgres:
		p, err := postgresPool()
		if err != nil {
			s.close()
			return nil, err
		}
		s.kv = pgstore.NewKVStore(p)
	}
	kv := s.kv
	s.closers = append(s.closers, func() { kv.Close() })
	s.kv = observability.InstrumentKVStore(s.kv, cfg.KVBackend, metrics)

	switch cfg.EventBackend {
	case config.BackendMemory:
		s.events = memory.NewEventStore()
	case config.BackendPostgres:
		p, err := postgresPool()
		if err != nil {
			s.close()
			return nil, err
		}
		s.events = pgstore.NewEventStore(p)
	case config.BackendClickHouse:
		if err := chstore.Migrate(ctx, cfg.ClickHouseDSN); err != nil {
			s.close()
			return nil, err
		}
		conn, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, func() { conn.Close() })
		s.events = chstore.NewEventStore(conn)
	}
	s.events = observability.InstrumentEventStore(s.events, cfg.EventBackend, metrics)
	return s, nil
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status      string             `json:"status"`
	Uptime      string             `json:"uptime"`
	Sequence    uint64             `json:"sequence"`
	Subscribers int                `json:"subscribers"`
	Deployment  *config.Deployment `json:"deployment,omitempty"`
}

// handleStatus returns node status as JSON.
func (n *node) handleStatus(w http.ResponseWriter, r *http.Request) {
	seq, err := n.host.Sequence(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	resp := StatusResponse{
		Status:      "running",
		Uptime:      time.Since(n.started).Round(time.Second).String(),
		Sequence:    seq,
		Subscribers: n.broker.Len(),
		Deployment:  n.deployment,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
