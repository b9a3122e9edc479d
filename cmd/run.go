package cmd

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cdcstream/olr/builder"
	"github.com/cdcstream/olr/checkpoint"
	"github.com/cdcstream/olr/chunk"
	"github.com/cdcstream/olr/config"
	"github.com/cdcstream/olr/flags"
	"github.com/cdcstream/olr/memmgr"
	"github.com/cdcstream/olr/metadata"
	"github.com/cdcstream/olr/parser"
	"github.com/cdcstream/olr/pipeline"
	"github.com/cdcstream/olr/reader"
	"github.com/cdcstream/olr/record"
	"github.com/cdcstream/olr/scn"
	"github.com/cdcstream/olr/transaction"
	"github.com/cdcstream/olr/writer"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the change-data-capture pipeline for one process name",
	RunE:  runRun,
}

func init() {
	olrCmd.AddCommand(runCmd)
}

// runRun wires every stage named in spec.md §4 together: the Reader
// feeds the Parser, the Parser routes into the transaction Buffer and
// drains commits to the Builder in commit order, the Builder persists
// a checkpoint after every LWN it processes, and the Writer drains
// the Builder and acks through its Sink. It returns when the log file
// ends, a hard shutdown is requested, or a fatal error occurs.
func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("olr: %s", err)
	}

	store, closeStore, err := openMetadataStore(dataDir)
	if err != nil {
		return fmt.Errorf("olr: %s", err)
	}
	defer closeStore()

	meta := metadata.Open(store, cfg.Database)

	pl := pipeline.New(10 * time.Second)
	pool := chunk.NewPool(poolOptions(cfg))

	mm, err := memmgr.New(pool, swapPath(cfg), cfg.Database)
	if err != nil {
		return fmt.Errorf("olr: memory manager: %s", err)
	}

	buf := transaction.NewBuffer(pool, cfg.Database)
	buf.SetSwapManager(mm)
	bld := builder.New(cfg.BuilderConfig(), meta, buf, pool)

	sink, err := openSink(cfg)
	if err != nil {
		return fmt.Errorf("olr: %s", err)
	}
	defer sink.Close()

	wtr := writer.New(sink, bld, meta, pool, cfg.CheckpointInterval())

	wc, pc, found, err := checkpoint.Resume(meta)
	if err != nil {
		return fmt.Errorf("olr: resume: %s", err)
	}
	firstDataScn := wc.SCN
	if found {
		firstDataScn = pc.SCN
	}
	log.WithField("pid", os.Getpid()).Infof("olr resuming at scn=%s", firstDataScn)

	// The sequence to validate blocks against: an explicit start-seq
	// wins, otherwise the oldest in-flight transaction's sequence from
	// the resumed checkpoint (Testable Property #4's exact-resume
	// position), otherwise the Reader locks onto the first block it
	// reads.
	var startSequence scn.Sequence
	if cfg.StartSeq != nil {
		startSequence = scn.Sequence(*cfg.StartSeq)
	} else if found && pc.MinSequence != 0 {
		startSequence = pc.MinSequence
	}

	rd := reader.New(reader.Options{
		Path:        cfg.Reader.Path,
		CopyPath:    cfg.Reader.CopyPath,
		Database:    cfg.Database,
		VerifyDelay: time.Duration(cfg.Reader.VerifyDelayMs) * time.Millisecond,
		Sequence:    startSequence,
	}, pool)
	defer rd.Close()

	if code := rd.Check(); code != reader.CodeOK {
		return fmt.Errorf("olr: reader check failed: %s", code)
	}

	ps := parser.New(parser.Options{
		Database:         cfg.Database,
		IgnoreDataErrors: cfg.Flags.GetFlag(flags.IgnoreDataErrors),
		FirstDataScn:     firstDataScn,
		Endian:           record.LittleEndian,
	}, buf, bld)

	stop := make(chan struct{})
	go mm.Run(stop, buf, cfg.CheckpointInterval())
	go func() {
		if err := wtr.Run(stop); err != nil {
			log.WithError(err).Error("writer stopped")
		}
	}()
	go watchSignals(pl)

	for {
		if pl.Check() == pipeline.SignalHard {
			break
		}

		code, err := rd.Read()
		if err != nil {
			log.WithError(err).Warn("reader error")
			if !cfg.Flags.GetFlag(flags.IgnoreDataErrors) {
				close(stop)
				return fmt.Errorf("olr: reader: %s", err)
			}
		}

		for {
			idx, block, ok := rd.Next(pool)
			if !ok {
				break
			}
			// Each block is treated as its own single-block LWN group
			// (see DESIGN.md's Open Question on LWN-header extraction);
			// its SCN advances past firstDataScn by one per block so
			// ProcessCheckpoint's past-firstDataScn gate still opens.
			lwnSCN := firstDataScn + scn.SCN(idx) + 1
			fileOffset := scn.FileOffset(idx) * scn.FileOffset(rd.BlockSize())
			err := ps.ProcessBlock(block, idx, idx, 1, lwnSCN, time.Now().UnixNano(), rd.Sequence(), fileOffset)
			if err != nil {
				log.WithError(err).Warn("parser error")
				if !cfg.Flags.GetFlag(flags.IgnoreDataErrors) {
					close(stop)
					return fmt.Errorf("olr: parser: %s", err)
				}
			}
		}

		if code == reader.CodeFinished || code == reader.CodeStopped || pl.ShouldStop() {
			break
		}
	}

	close(stop)
	bld.Shutdown()
	return nil
}
