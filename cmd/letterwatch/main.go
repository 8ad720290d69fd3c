// Command letterwatch follows the letters an actor submitted or must act on,
// printing every status change as the server reports it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/application/notify"
	"github.com/garyjia/letter-approval/internal/interfaces/watch"
	"github.com/garyjia/letter-approval/pkg/utils"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "letter approval server base URL")
	actor := flag.String("actor", os.Getenv("LETTER_ACTOR_ID"), "actor id to watch as (default $LETTER_ACTOR_ID)")
	poll := flag.Duration("poll", 30*time.Second, "full resync interval")
	cooldown := flag.Duration("cooldown", 2*time.Second, "minimum gap between refreshes of one letter")
	timeout := flag.Duration("timeout", 10*time.Second, "HTTP and websocket handshake timeout")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      *logLevel,
		OutputPath: "stderr",
		Format:     "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	client, err := watch.NewClient(*server, *actor, *timeout, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "letterwatch: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	rec := notify.NewReconciler(*actor, client.FetchLetter,
		notify.WithCooldown(*cooldown),
		notify.WithOnChange(func(s *notify.Snapshot) {
			fmt.Printf("%s  %-12s %-10s v%d\n", time.Now().Format(time.TimeOnly), s.LetterID, s.Status, s.Version)
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := watch.NewWatcher(client, rec, watch.Config{PollInterval: *poll}, logger)
	if err := w.Run(ctx); err != nil {
		logger.Error("Watcher stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
