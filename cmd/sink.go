package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/config"
	"github.com/cdcstream/olr/metadata"
	"github.com/cdcstream/olr/pipeline"
	"github.com/cdcstream/olr/writer"
)

// dataDir is where the metadata store (checkpoints, schema snapshots)
// lives; it is independent of configFile's reader/writer settings.
var dataDir = "olr-data"

func init() {
	fs := olrCmd.PersistentFlags()
	fs.StringVar(&dataDir, "data", dataDir, "`directory` holding checkpoints and schema snapshots")
}

// openMetadataStore opens the on-disk store backing package metadata.
// It defaults to the plain directory store; -data names the root.
func openMetadataStore(dir string) (metadata.Store, func(), error) {
	store, err := metadata.NewDirStore(dir)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

// poolOptions translates the config's memory block into chunk.Options.
func poolOptions(cfg *config.Config) chunk.Options {
	opts := chunk.DefaultOptions()
	if cfg.Memory.ChunkSizeMB > 0 {
		opts.ChunkSize = cfg.Memory.ChunkSizeMB * 1024 * 1024
	}
	if cfg.Memory.ReaderCap > 0 {
		opts.Caps[chunk.Reader] = cfg.Memory.ReaderCap
	}
	if cfg.Memory.ParserCap > 0 {
		opts.Caps[chunk.Parser] = cfg.Memory.ParserCap
	}
	if cfg.Memory.TransactionCap > 0 {
		opts.Caps[chunk.Transactions] = cfg.Memory.TransactionCap
	}
	if cfg.Memory.BuilderCap > 0 {
		opts.Caps[chunk.Builder] = cfg.Memory.BuilderCap
	}
	if cfg.Memory.WriterCap > 0 {
		opts.Caps[chunk.Writer] = cfg.Memory.WriterCap
	}
	return opts
}

func swapPath(cfg *config.Config) string {
	if cfg.Memory.SwapPath != "" {
		return cfg.Memory.SwapPath
	}
	return os.TempDir() + "/olr-swap"
}

// openSink constructs the one configured Sink. A stream sink blocks
// here until a client connects, since the Writer is built around a
// single active Sink rather than a listener pool.
func openSink(cfg *config.Config) (writer.Sink, error) {
	switch {
	case cfg.Writer.Stream != nil:
		l, err := writer.Listen(cfg.Writer.Stream.Listen)
		if err != nil {
			return nil, fmt.Errorf("stream sink: %s", err)
		}
		log.Infof("olr: waiting for a stream client on %s", cfg.Writer.Stream.Listen)
		return writer.Accept(l)
	case cfg.Writer.Kafka != nil:
		return writer.NewKafkaSink(cfg.Writer.Kafka.Brokers, cfg.Writer.Kafka.Topic), nil
	case cfg.Writer.Zmq != nil:
		return writer.NewZmqSink(cfg.Writer.Zmq.PubAddress, cfg.Writer.Zmq.RepAddress)
	default:
		return nil, fmt.Errorf("writer: no sink configured (stream, kafka, or zmq)")
	}
}

// watchSignals binds the process signals named in spec.md §6: SIGINT
// and SIGPIPE request a soft shutdown, SIGSEGV dumps a stack trace and
// exits 1 (best-effort; Go's runtime normally handles true segfaults
// itself), and SIGUSR1 dumps the pipeline's wait/timeout counters
// without stopping.
func watchSignals(pl *pipeline.Pipeline) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGPIPE, syscall.SIGUSR1, syscall.SIGSEGV)
	for sig := range ch {
		switch sig {
		case os.Interrupt, syscall.SIGPIPE:
			log.Warn("olr: received ", sig, ", soft shutdown")
			pl.SoftShutdown()
		case syscall.SIGUSR1:
			waits, timeouts := pl.Counters()
			log.WithFields(log.Fields{"waits": waits, "timeouts": timeouts}).Info("olr: stat dump")
		case syscall.SIGSEGV:
			log.WithField("stack", string(debug.Stack())).Error("olr: received SIGSEGV, dumping and exiting")
			pl.HardShutdown()
			time.Sleep(10 * time.Millisecond)
			os.Exit(1)
		}
	}
}
