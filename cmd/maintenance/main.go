// Command maintenance runs one-off operational tasks: a single sweep pass,
// schema migration or tailing the notification exchange.
//
//	maintenance [flags] sweep-seat-holds|sweep-orders|sweep-admission|migrate|watch-notifications
//
// Exit status is 0 on success or when another node holds the sweep lock,
// 1 on failure and 2 on usage errors.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/iliyamo/ticketing-admission/internal/app"
	"github.com/iliyamo/ticketing-admission/internal/config"
	"github.com/iliyamo/ticketing-admission/internal/database"
	"github.com/iliyamo/ticketing-admission/internal/queue"
	"github.com/iliyamo/ticketing-admission/internal/sweeper"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var sweeps = map[string]string{
	"sweep-seat-holds": app.SweepSeatHolds,
	"sweep-orders":     app.SweepOrders,
	"sweep-admission":  app.SweepAdmission,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("maintenance", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env-file", ".env", "dotenv file to load before reading the environment")
	timeout := fs.Duration("timeout", 5*time.Minute, "abort a sweep or migration after this long")
	queueName := fs.String("queue", "", "durable queue for watch-notifications (default: exclusive)")
	bindings := fs.StringSlice("bind", []string{"#"}, "routing key patterns for watch-notifications")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: maintenance [flags] sweep-seat-holds|sweep-orders|sweep-admission|migrate|watch-notifications")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	cmd := fs.Arg(0)
	if _, ok := sweeps[cmd]; !ok && cmd != "migrate" && cmd != "watch-notifications" {
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return exitUsage
	}

	_ = godotenv.Load(*envFile)
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	logger := config.NewLogger(cfg.Log, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd == "watch-notifications" {
		return watch(ctx, cfg, *queueName, *bindings, stdout, logger)
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitError
	}
	defer a.Close()

	if cmd == "migrate" {
		if err := database.Migrate(ctx, a.DB, database.MySQL); err != nil {
			logger.Error("migrate failed", "error", err)
			return exitError
		}
		logger.Info("schema up to date")
		return exitOK
	}

	loop, ok := a.Loops[sweeps[cmd]]
	if !ok {
		logger.Error("sweep not configured", "sweep", sweeps[cmd])
		return exitError
	}
	return runSweep(ctx, loop, logger)
}

// runSweep runs one locked pass of loop.  Records that failed individually
// are logged and retried by the next run, so only a failure of the sweep
// itself makes the command fail.
func runSweep(ctx context.Context, loop *sweeper.Loop, logger *slog.Logger) int {
	ran, res, err := loop.RunOnce(ctx)
	if err != nil {
		logger.Error("sweep failed", "sweep", loop.Name, "error", err)
		return exitError
	}
	if !ran {
		logger.Info("sweep skipped, lock held elsewhere", "sweep", loop.Name)
		return exitOK
	}
	attrs := []any{"sweep", loop.Name, "scanned", res.Scanned, "processed", res.Processed, "failed", res.Failed}
	if res.Failed > 0 {
		logger.Warn("sweep done with failed records, they are retried on the next run", attrs...)
		return exitOK
	}
	logger.Info("sweep done", attrs...)
	return exitOK
}

// watch prints every notification as one JSON line until interrupted.
func watch(ctx context.Context, cfg config.Config, queueName string, bindings []string, out io.Writer, logger *slog.Logger) int {
	enc := json.NewEncoder(out)
	c := &queue.Consumer{
		URL:      cfg.Notify.URL,
		Exchange: cfg.Notify.Exchange,
		Queue:    queueName,
		Bindings: bindings,
		Prefetch: 32,
		Logger:   logger,
		Handler: func(_ context.Context, key string, body []byte) error {
			return enc.Encode(struct {
				Topic   string          `json:"topic"`
				Payload json.RawMessage `json:"payload"`
			}{key, body})
		},
	}
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("watch failed", "error", err)
		return exitError
	}
	return exitOK
}
