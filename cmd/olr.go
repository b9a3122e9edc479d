// Package cmd implements the olr command line: flag/config wiring,
// signal handling, and the run subcommand that starts the pipeline.
package cmd

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// osGeteuid is a var so the root check below is trivially stubbable;
// os.Geteuid returns -1 on platforms with no effective uid, which
// never matches 0, making the check a no-op there.
var osGeteuid = os.Geteuid

var (
	olrCmd = &cobra.Command{
		Use:               "olr",
		Short:             "A redo-log change-data-capture engine",
		Long:              "olr streams committed row changes out of a database's redo log.",
		PersistentPreRunE: olrPreRun,
		PersistentPostRun: olrPostRun,
	}

	logFile   = ""
	logLevel  = "info"
	logWriter io.Closer

	configFile  = "olr.json"
	processName = ""
	forceRoot   = false
)

func init() {
	fs := olrCmd.PersistentFlags()

	fs.StringVarP(&configFile, "file", "f", configFile, "`file` to load the JSON config from")
	fs.StringVarP(&processName, "process", "p", processName, "`name` of this olr process")
	fs.BoolVarP(&forceRoot, "root", "r", forceRoot, "allow running as root (not recommended)")
	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging; empty logs to stderr")
	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
}

// Execute runs the root command. Setting Version here, rather than at
// init time, lets main assign the build-time version string first.
func Execute() error {
	olrCmd.Version = Version
	return olrCmd.Execute()
}

func olrPreRun(cmd *cobra.Command, args []string) error {
	if uid := osGeteuid(); uid == 0 {
		if !forceRoot {
			return fmt.Errorf("olr: program is run as root, you should never do that; pass -r to override")
		}
		log.Warn("olr: running as root")
	}

	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
		FullTimestamp:          true,
	})

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return fmt.Errorf("olr: %s", err)
		}
		logWriter = f
		log.SetOutput(f)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("olr: %s", err)
	}
	log.SetLevel(ll)

	log.WithFields(log.Fields{"pid": os.Getpid(), "process": processName}).Info("olr starting")
	return nil
}

func olrPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("olr done")
	if logWriter != nil {
		logWriter.Close()
	}
}
