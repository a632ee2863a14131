package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/pflag"

	"arraymon/internal/app"
	"arraymon/internal/config"
	"arraymon/internal/dispatch"
	"arraymon/internal/logging"
)

var version = "dev"

const appName = "arraymon-tools"

const usage = `usage: arraymon-tools [flags] <command>

commands:
  migrate  apply pending schema migrations
  ingest   run one archive ingestion now
  report   write the weekly report ending before --at
  worker   consume dispatched tasks from AMQP

flags:
`

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dataDir string
		driver  string
		at      string
	)
	flagSet := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	flagSet.StringVar(&dataDir, "data-dir", "", "override DATA_DIR")
	flagSet.StringVar(&driver, "store", "", "override STORE_DRIVER (sqlite, clickhouse)")
	flagSet.StringVar(&at, "at", "", "report date as YYYY-MM-DD (default: today)")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return errors.New("expected exactly one command")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if dataDir != "" {
		if cfg.DataDir, err = filepath.Abs(dataDir); err != nil {
			return err
		}
	}
	if driver != "" {
		cfg.Store.Driver = driver
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	cmd := flagSet.Arg(0)
	if cmd == "migrate" {
		fmt.Println("migrations applied")
		return nil
	}

	bg, err := app.NewBackground(ctx, cfg, app.IngestDeps{Store: st}, logger)
	if err != nil {
		return err
	}
	defer bg.Close()

	switch cmd {
	case "ingest":
		res, err := bg.Pipeline.Run(ctx)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		fmt.Printf("fetched %d, files %d, documents %d (skipped %d), events %d, published %d\n",
			res.Fetched, res.Files, res.Documents, res.SkippedDocuments, res.Events, res.Published)
		return nil

	case "report":
		when := time.Now()
		if at != "" {
			if when, err = time.ParseInLocation(time.DateOnly, at, time.Local); err != nil {
				return fmt.Errorf("invalid --at %q: %w", at, err)
			}
		}
		sum, err := bg.Report.Generate(ctx, when)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		fmt.Println(sum.File)
		return nil

	case "worker":
		return runWorker(ctx, cfg, bg, logger)

	default:
		flagSet.Usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func runWorker(ctx context.Context, cfg config.Config, bg *app.Background, logger *slog.Logger) error {
	conn, err := amqp.Dial(cfg.Queue.AMQPURL)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	defer conn.Close()

	consumer, err := dispatch.NewConsumer(conn, cfg.Queue.Exchange, cfg.Queue.Queue, bg.Router().Handle, logger)
	if err != nil {
		return fmt.Errorf("amqp consumer: %w", err)
	}
	defer consumer.Close()

	return consumer.Start(ctx)
}
