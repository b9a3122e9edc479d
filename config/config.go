// Package config loads the JSON configuration file that names the
// source redo log, the start position, the schema snapshot, row
// filters, output formatting, memory quotas, and the reader/writer
// sinks, per spec.md §6.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cdcstream/olr/builder"
	"github.com/cdcstream/olr/flags"
)

// Filter is one row-filter entry from the "filter" array.
type Filter struct {
	Owner     string                 `json:"owner"`
	Table     string                 `json:"table"`
	Key       []string               `json:"key,omitempty"`
	Tag       []string               `json:"tag,omitempty"`
	Condition string                 `json:"condition,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

// Format mirrors builder.Config's JSON spelling, per spec.md §4.7.
type Format struct {
	Timestamp  string `json:"timestamp,omitempty"`
	Message    string `json:"message,omitempty"`
	Attributes string `json:"attributes,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Schemaless bool   `json:"schemaless,omitempty"`
	Adaptive   bool   `json:"adaptive-schema,omitempty"`
	KeyAsArray bool   `json:"key-as-array,omitempty"`
}

// Memory configures the chunk allocator's size and per-subsystem caps.
type Memory struct {
	ChunkSizeMB    int `json:"chunk-size-mb,omitempty"`
	ReaderCap      int `json:"reader-cap,omitempty"`
	ParserCap      int `json:"parser-cap,omitempty"`
	TransactionCap int `json:"transaction-cap,omitempty"`
	BuilderCap     int `json:"builder-cap,omitempty"`
	WriterCap      int `json:"writer-cap,omitempty"`
	SwapPath       string `json:"swap-path,omitempty"`
}

// Reader configures the redo source.
type Reader struct {
	Path        string `json:"path"`
	CopyPath    string `json:"copy-path,omitempty"`
	VerifyDelayMs int  `json:"verify-delay-ms,omitempty"`
}

// Writer configures the output sink. Exactly one of Stream/Kafka/Zmq
// should be set; which one selects the Sink implementation wired at
// startup.
type Writer struct {
	CheckpointIntervalMs int          `json:"checkpoint-interval-ms,omitempty"`
	Stream               *StreamSink  `json:"stream,omitempty"`
	Kafka                *KafkaSink   `json:"kafka,omitempty"`
	Zmq                  *ZmqSink     `json:"zmq,omitempty"`
}

// StreamSink configures a raw TCP sink speaking the CopyData framing.
type StreamSink struct {
	Listen string `json:"listen"`
}

// KafkaSink configures a Kafka-backed sink.
type KafkaSink struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// ZmqSink configures a ZeroMQ PUB/REP sink pair.
type ZmqSink struct {
	PubAddress string `json:"pub-address"`
	RepAddress string `json:"rep-address"`
}

// Config is the decoded shape of one JSON configuration file, per
// spec.md §6's top-level key list.
type Config struct {
	Database      string   `json:"database"`
	StartSCN      *uint64  `json:"start-scn,omitempty"`
	StartSeq      *uint32  `json:"start-seq,omitempty"`
	StartTime     string   `json:"start-time,omitempty"`
	StartTimeRel  string   `json:"start-time-rel,omitempty"`
	Schema        string   `json:"schema,omitempty"`
	Filter        []Filter `json:"filter,omitempty"`
	Format        Format   `json:"format,omitempty"`
	Memory        Memory   `json:"memory,omitempty"`
	Reader        Reader   `json:"reader"`
	Writer        Writer   `json:"writer"`
	DisableChecks []string `json:"disable-checks,omitempty"`

	Flags flags.Flags `json:"-"`
}

// topLevelKeys is the allow-list enforced unless disable-checks
// includes JSON_TAGS.
var topLevelKeys = map[string]struct{}{
	"database":         {},
	"start-scn":        {},
	"start-seq":        {},
	"start-time":       {},
	"start-time-rel":   {},
	"schema":           {},
	"filter":           {},
	"format":           {},
	"memory":           {},
	"reader":           {},
	"writer":           {},
	"flags":            {},
	"disable-checks":   {},
}

// Load reads and decodes the configuration file at path, rejecting
// unknown top-level keys unless JSON_TAGS has been set among
// disable-checks, per spec.md §6.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	jsonTags := false
	if dc, ok := raw["disable-checks"]; ok {
		var names []string
		if err := json.Unmarshal(dc, &names); err == nil {
			for _, n := range names {
				if f, ok := flags.LookupFlag(n); ok && f == flags.JSONTags {
					jsonTags = true
				}
			}
		}
	}
	if !jsonTags {
		for key := range raw {
			if _, ok := topLevelKeys[key]; !ok {
				return nil, fmt.Errorf("config: %q is not a config variable", key)
			}
		}
	}

	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.Flags = flags.Default()
	if fl, ok := raw["flags"]; ok {
		var m map[string]bool
		if err := json.Unmarshal(fl, &m); err != nil {
			return nil, fmt.Errorf("config: flags: %w", err)
		}
		for name, v := range m {
			if err := cfg.Flags.ApplyNamed(name, v); err != nil {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}
	for _, n := range cfg.DisableChecks {
		if err := cfg.Flags.ApplyNamed(n, true); err != nil {
			return nil, fmt.Errorf("config: disable-checks: %w", err)
		}
	}

	if cfg.Database == "" {
		return nil, fmt.Errorf("config: %q is required", "database")
	}
	if cfg.Reader.Path == "" {
		return nil, fmt.Errorf("config: %q is required", "reader.path")
	}

	return &cfg, nil
}

// CheckpointInterval returns the configured writer checkpoint
// interval, defaulting to one second.
func (c *Config) CheckpointInterval() time.Duration {
	if c.Writer.CheckpointIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.Writer.CheckpointIntervalMs) * time.Millisecond
}

// BuilderConfig translates the "format" block into a builder.Config.
func (c *Config) BuilderConfig() builder.Config {
	cfg := builder.DefaultConfig()

	switch c.Format.Message {
	case "short":
		cfg.MessageFormat = builder.FormatShort
	case "full-with-begin-commit":
		cfg.MessageFormat = builder.FormatFullWithBeginCommit
	case "skip-begin":
		cfg.MessageFormat = builder.FormatSkipBegin
	case "skip-commit":
		cfg.MessageFormat = builder.FormatSkipCommit
	case "add-offset":
		cfg.MessageFormat = builder.FormatAddOffset
	}

	switch c.Format.Attributes {
	case "commit":
		cfg.AttributesFormat = builder.AttributesOnCommit
	case "every-dml":
		cfg.AttributesFormat = builder.AttributesOnEveryDML
	}

	switch c.Format.Encoding {
	case "binary-schema":
		cfg.Encoding = builder.EncodingBinarySchema
	}

	switch c.Format.Timestamp {
	case "unix-nano":
		cfg.TimestampFormat = builder.TimestampUnixNano
	case "unix-micro":
		cfg.TimestampFormat = builder.TimestampUnixMicro
	case "unix":
		cfg.TimestampFormat = builder.TimestampUnix
	case "iso8601":
		cfg.TimestampFormat = builder.TimestampISO8601
	}

	cfg.Schemaless = c.Format.Schemaless || c.Flags.GetFlag(flags.Schemaless)
	cfg.AdaptiveSchema = c.Format.Adaptive || c.Flags.GetFlag(flags.AdaptiveSchema)
	cfg.KeyAsArray = c.Format.KeyAsArray || c.Flags.GetFlag(flags.KeyAsArray)
	cfg.AddDML = true

	return cfg
}
