package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
	"github.com/wuwenbin0122/wwb.chat/internal/db"
	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

// stateKeys is every key the chat client persists.
var stateKeys = []string{
	conversation.HistoryKey,
	conversation.SettingsKey,
	conversation.CustomInstructionsKey,
}

// migrate_store copies the persisted chat state from one store backend to
// another, e.g. from the local bolt file into postgres.
func main() {
	from := flag.String("from", utils.StoreBolt, "source store backend")
	to := flag.String("to", "", "destination store backend")
	dryRun := flag.Bool("dry-run", false, "report what would be copied without writing")
	flag.Parse()

	if *to == "" {
		log.Fatalf("-to is required")
	}
	if *from == *to {
		log.Fatalf("source and destination are both %q", *from)
	}

	_ = godotenv.Load()

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := utils.MustNewLogger(cfg.Logging).Sugar()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	src, err := openBackend(ctx, *cfg, *from, logger)
	if err != nil {
		log.Fatalf("open %s: %v", *from, err)
	}
	defer src.Close()

	dst, err := openBackend(ctx, *cfg, *to, logger)
	if err != nil {
		log.Fatalf("open %s: %v", *to, err)
	}
	defer dst.Close()

	copied, err := migrate(ctx, src, dst, *dryRun, os.Stdout)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}

	fmt.Printf("copied %d keys from %s to %s at %s\n", copied, *from, *to, time.Now().Format(time.RFC3339))
}

// migrate copies every state key present in src into dst and reports how many
// were written. A dry run only reports.
func migrate(ctx context.Context, src, dst db.Store, dryRun bool, out io.Writer) (int, error) {
	copied := 0
	for _, key := range stateKeys {
		value, ok, err := src.Load(ctx, key)
		if err != nil {
			return copied, fmt.Errorf("load %s: %w", key, err)
		}
		if !ok {
			fmt.Fprintf(out, "- %s: absent, skipped\n", key)
			continue
		}
		if dryRun {
			fmt.Fprintf(out, "- %s: %d bytes (dry run)\n", key, len(value))
			continue
		}
		if err := dst.Save(ctx, key, value); err != nil {
			return copied, fmt.Errorf("save %s: %w", key, err)
		}
		copied++
		fmt.Fprintf(out, "- %s: %d bytes copied\n", key, len(value))
	}
	return copied, nil
}

func openBackend(ctx context.Context, cfg utils.Config, backend string, logger *zap.SugaredLogger) (db.Store, error) {
	cfg.Store.Backend = backend
	return db.Open(ctx, &cfg, logger.Named(backend))
}
