// Package main runs the invoice photo intake bot: a Telegram conversation
// that collects city, point, date, photos, and invoice metadata, then files
// the photos into the remote storage hierarchy.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/SamoylikV/vaffel-disk-bot/internal/awsutil"
	"github.com/SamoylikV/vaffel-disk-bot/internal/catalog"
	"github.com/SamoylikV/vaffel-disk-bot/internal/config"
	"github.com/SamoylikV/vaffel-disk-bot/internal/engine"
	"github.com/SamoylikV/vaffel-disk-bot/internal/finalize"
	"github.com/SamoylikV/vaffel-disk-bot/internal/journal"
	"github.com/SamoylikV/vaffel-disk-bot/internal/session"
	"github.com/SamoylikV/vaffel-disk-bot/internal/storage"
	"github.com/SamoylikV/vaffel-disk-bot/internal/storage/s3fs"
	"github.com/SamoylikV/vaffel-disk-bot/internal/storage/yadisk"
	"github.com/SamoylikV/vaffel-disk-bot/internal/telegram"
)

func main() {
	_ = godotenv.Load()
	env := config.MustLoad()
	log := newLogger(env.LogLevel)

	bot, err := tgbotapi.NewBotAPI(env.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}
	log.Info().Str("account", bot.Self.UserName).Msg("authorized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, repo, err := buildBackends(ctx, env)
	if err != nil {
		log.Fatal().Err(err).Msg("storage setup failed")
	}

	sessions := session.NewStore()
	eng := engine.New(catalog.Default(), sessions,
		engine.WithDateLayout(env.DateLayout),
		engine.WithLogger(log),
	)

	transport := telegram.New(bot, eng, nil, log)
	fin := finalize.New(store, storage.NewResolver(store), transport, repo, log)
	transport.SetFinalizer(fin)

	log.Info().Str("backend", env.Backend).Msg("dispatching")
	transport.Run(ctx)
	log.Info().Msg("stopped")
}

// buildBackends wires the configured storage backend and the optional
// submission journal.
func buildBackends(ctx context.Context, env config.Env) (storage.Store, *journal.Repo, error) {
	var store storage.Store
	var repo *journal.Repo

	needsAWS := env.Backend == config.BackendS3 || env.JournalTable != ""
	if needsAWS {
		cfg, endpoint, err := awsutil.Load(ctx, env.Region)
		if err != nil {
			return nil, nil, err
		}
		if env.Backend == config.BackendS3 {
			store = s3fs.New(awsutil.NewS3(cfg, endpoint), env.S3Bucket)
		}
		if env.JournalTable != "" {
			repo = &journal.Repo{DB: awsutil.NewDynamoDB(cfg, endpoint), Table: env.JournalTable}
		}
	}
	if store == nil {
		store = yadisk.New(env.YaDiskToken, env.YaDiskBase)
	}
	return store, repo, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
