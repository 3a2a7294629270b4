// Package config loads node settings from flags, environment and .env files,
// and describes the contracts deployed at genesis.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Storage backends.
const (
	BackendMemory     = "memory"
	BackendBolt       = "bolt"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
)

// Node holds ledgerd settings.
type Node struct {
	ListenAddr string

	// KVBackend stores contract state: memory, bolt or postgres.
	KVBackend   string
	BoltDir     string
	PostgresDSN string

	// EventBackend stores committed events: memory, postgres or clickhouse.
	EventBackend  string
	ClickHouseDSN string

	// KafkaBrokers enables the Kafka event sink when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	GenesisPath string
	// OperatorKey is the base58 secret that deploys and owns genesis contracts.
	OperatorKey string

	SubscriberBuffer int
	LogLevel         string
	LogFormat        string
}

// DefaultNode returns settings for a single in-memory node.
func DefaultNode() Node {
	return Node{
		ListenAddr:       ":8545",
		KVBackend:        BackendMemory,
		BoltDir:          "data",
		EventBackend:     BackendMemory,
		KafkaTopic:       "ambar_ledger_events",
		SubscriberBuffer: 256,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// RegisterFlags binds n to fs. Environment variables override the built-in
// defaults; explicit flags override both.
func (n *Node) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&n.ListenAddr, "listen", envOr("LEDGER_LISTEN", n.ListenAddr), "HTTP listen address for /rpc, /ws, /metrics")
	fs.StringVar(&n.KVBackend, "kv-backend", envOr("LEDGER_KV_BACKEND", n.KVBackend), "Contract state backend (memory, bolt, postgres)")
	fs.StringVar(&n.BoltDir, "bolt-dir", envOr("LEDGER_BOLT_DIR", n.BoltDir), "Directory holding the bbolt ledger file")
	fs.StringVar(&n.PostgresDSN, "postgres-dsn", envOr("POSTGRES_DSN", n.PostgresDSN), "PostgreSQL connection string")
	fs.StringVar(&n.EventBackend, "event-backend", envOr("LEDGER_EVENT_BACKEND", n.EventBackend), "Event store backend (memory, postgres, clickhouse)")
	fs.StringVar(&n.ClickHouseDSN, "clickhouse-dsn", envOr("CLICKHOUSE_DSN", n.ClickHouseDSN), "ClickHouse connection string")
	fs.Func("kafka-brokers", "Comma-separated Kafka brokers (env KAFKA_BROKERS)", func(s string) error {
		n.KafkaBrokers = splitList(s)
		return nil
	})
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		n.KafkaBrokers = splitList(v)
	}
	fs.StringVar(&n.KafkaTopic, "kafka-topic", envOr("KAFKA_TOPIC", n.KafkaTopic), "Kafka topic for committed events")
	fs.StringVar(&n.GenesisPath, "genesis", envOr("LEDGER_GENESIS", n.GenesisPath), "Genesis TOML file")
	fs.StringVar(&n.OperatorKey, "operator-key", envOr("LEDGER_OPERATOR_KEY", n.OperatorKey), "Base58 secret of the genesis operator")
	fs.IntVar(&n.SubscriberBuffer, "subscriber-buffer", envInt("LEDGER_SUBSCRIBER_BUFFER", n.SubscriberBuffer), "Per-subscriber event buffer")
	fs.StringVar(&n.LogLevel, "log-level", envOr("LOG_LEVEL", n.LogLevel), "Log level (debug, info, warn, error)")
	fs.StringVar(&n.LogFormat, "log-format", envOr("LOG_FORMAT", n.LogFormat), "Log format (console, json)")
}

// Validate checks backend names and the settings each backend needs.
func (n Node) Validate() error {
	var errs []error
	switch n.KVBackend {
	case BackendMemory:
	case BackendBolt:
		if n.BoltDir == "" {
			errs = append(errs, errors.New("--bolt-dir is required for the bolt backend"))
		}
	case BackendPostgres:
		if n.PostgresDSN == "" {
			errs = append(errs, errors.New("--postgres-dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown kv backend %q", n.KVBackend))
	}

	switch n.EventBackend {
	case BackendMemory:
	case BackendPostgres:
		if n.PostgresDSN == "" {
			errs = append(errs, errors.New("--postgres-dsn is required for the postgres event store"))
		}
	case BackendClickHouse:
		if n.ClickHouseDSN == "" {
			errs = append(errs, errors.New("--clickhouse-dsn is required for the clickhouse event store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown event backend %q", n.EventBackend))
	}

	if n.GenesisPath != "" && n.OperatorKey == "" {
		errs = append(errs, errors.New("--operator-key is required with --genesis"))
	}
	if n.SubscriberBuffer < 0 {
		errs = append(errs, fmt.Errorf("subscriber buffer must be >= 0, got %d", n.SubscriberBuffer))
	}
	return errors.Join(errs...)
}

// LoadEnvFile sets variables from a KEY=VALUE file. Missing files are
// ignored and variables already set in the environment win.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read env file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, set := os.LookupEnv(key); !set {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
