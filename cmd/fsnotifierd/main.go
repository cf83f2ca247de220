package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/skirge/fsnotifierd/internal/buildinfo"
	"github.com/skirge/fsnotifierd/internal/cmdutil"
	"github.com/skirge/fsnotifierd/internal/engine"
	"github.com/skirge/fsnotifierd/internal/logx"
	"github.com/skirge/fsnotifierd/internal/protocol"
	"github.com/skirge/fsnotifierd/internal/source"
)

var rootConfiguration struct {
	help       bool
	version    bool
	legal      bool
	maxWatches int
	statsEvery time.Duration
	logLevel   string
	roots      []string
	ignore     []string
}

var rootCommand = &cobra.Command{
	Use:   "fsnotifierd",
	Short: "fsnotifierd watches directory trees and reports changes on a line protocol",
	Run:   cmdutil.Mainify(run),
}

func init() {
	flags := rootCommand.Flags()
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")
	flags.BoolVarP(&rootConfiguration.version, "version", "V", false, "Show version information")
	flags.BoolVarP(&rootConfiguration.legal, "legal", "l", false, "Show legal information")
	flags.IntVar(&rootConfiguration.maxWatches, "max-watches", 0, "Override the maximum number of live registrations (0 uses the platform default)")
	flags.DurationVar(&rootConfiguration.statsEvery, "stats-interval", 0, "Emit a periodic STATS record at this interval (0 disables it)")
	flags.StringVar(&rootConfiguration.logLevel, "log-level", "info", "Minimum severity logged to standard error (disabled, error, warn, info, debug)")
	flags.StringSliceVar(&rootConfiguration.ignore, "ignore", nil, "An ignore rule applied to every watched root (repeatable)")
	flags.StringSliceVar(&rootConfiguration.roots, "watch", nil, "A root to watch at startup, before reading commands (repeatable)")

	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(command *cobra.Command, arguments []string) error {
	if rootConfiguration.version {
		fmt.Println(buildinfo.Version)
		return nil
	}
	if rootConfiguration.legal {
		fmt.Print(buildinfo.LegalNotice)
		return nil
	}

	if envPath := os.Getenv("FSNOTIFIERD_ENV"); envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	// Diagnostics go to standard error (see internal/logx); standard output
	// is reserved for the line protocol and is never colorized regardless of
	// its own tty-ness, since the parent process, not a human, reads it.
	color.NoColor = !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd())

	if parsed, ok := logx.NameToLevel(rootConfiguration.logLevel); ok {
		logx.SetLevel(parsed)
	} else {
		return errors.Errorf("invalid log level: %s", rootConfiguration.logLevel)
	}

	logger := logx.RootLogger.Sublogger("fsnotifierd")
	writer := protocol.NewWriter(os.Stdout)
	writer.Banner(buildinfo.Version)

	src := newEventSource()
	if rootConfiguration.maxWatches > 0 {
		src = &maxWatchesOverride{EventSource: src, max: rootConfiguration.maxWatches}
	}
	if err := src.Init(); err != nil {
		return errors.Wrap(err, "unable to initialize event source")
	}

	eng := engine.New(src, logger, os.Stdout, writer)
	defer eng.Close()

	for _, root := range rootConfiguration.roots {
		if _, err := eng.Watch(root, rootConfiguration.ignore); err != nil {
			logger.Warn(errors.Wrapf(err, "unable to watch %s", root))
		}
	}

	return runLoop(eng, logger, writer, os.Stdin)
}

// runLoop is the single-threaded command/event multiplexer described in
// spec.md §5: it alternates between servicing one command from in and
// draining one batch of kernel events, exiting on an explicit exit command,
// end-of-file on the command stream, a termination signal, or a fatal
// kernel-channel error.
func runLoop(eng *engine.Engine, logger *logx.Logger, writer *protocol.Writer, in io.Reader) error {
	reader := protocol.NewReader(in)
	commands := make(chan protocol.Command)
	commandErrs := make(chan error, 1)
	go func() {
		for {
			cmd, err := reader.Next()
			if err != nil {
				commandErrs <- err
				return
			}
			commands <- cmd
		}
	}()

	signals := make(chan os.Signal, 1)
	registerTerminationSignals(signals)

	stop := make(chan struct{})
	defer close(stop)

	start := time.Now()
	var statsTicker *time.Ticker
	var statsChan <-chan time.Time
	if rootConfiguration.statsEvery > 0 {
		statsTicker = time.NewTicker(rootConfiguration.statsEvery)
		defer statsTicker.Stop()
		statsChan = statsTicker.C
	}

	events := make(chan []source.RawEvent)
	pollErrs := make(chan error, 1)
	pollCtx := engine.ContextFromStop(stop)
	go func() {
		for {
			batch, err := eng.Poll(pollCtx)
			if err != nil {
				pollErrs <- err
				return
			}
			events <- batch
		}
	}()

	for {
		select {
		case cmd := <-commands:
			switch c := cmd.(type) {
			case protocol.Watch:
				if _, err := eng.Watch(c.Root, c.Ignore); err != nil {
					logger.Warn(errors.Wrapf(err, "unable to watch %s", c.Root))
				}
			case protocol.Unwatch:
				if err := eng.Unwatch(c.Handle); err != nil {
					logger.Warn(errors.Wrapf(err, "unable to unwatch handle %d", c.Handle))
				}
			case protocol.Exit:
				return nil
			}
		case err := <-commandErrs:
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "command stream error")
		case batch := <-events:
			eng.Dispatch(batch)
		case err := <-pollErrs:
			// Fatal kernel-channel error: exit without graceful per-root
			// teardown, per spec.md §5.
			return errors.Wrap(err, "event source error")
		case <-signals:
			return nil
		case <-statsChan:
			writer.Stats(eng.Count(), eng.MaxWatches(), time.Since(start))
		}
	}
}

// maxWatchesOverride wraps an EventSource to report an administrator
// override instead of the platform-discovered ceiling.
type maxWatchesOverride struct {
	source.EventSource
	max int
}

func (o *maxWatchesOverride) MaxWatches() int {
	return o.max
}
