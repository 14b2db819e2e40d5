package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/longpoll/internal/admin"
	"github.com/danmuck/longpoll/internal/auth"
	"github.com/danmuck/longpoll/internal/botapi"
	"github.com/danmuck/longpoll/internal/chatsession"
	"github.com/danmuck/longpoll/internal/config"
	"github.com/danmuck/longpoll/internal/logging"
	"github.com/danmuck/longpoll/internal/longpoll"
	"github.com/danmuck/longpoll/internal/observability"
	"github.com/rs/zerolog/log"
)

const drainTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "cmd/longpollctl/config.toml", "path to a .toml or .yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "longpollctl: %v\n", err)
		os.Exit(1)
	}
	logging.Apply(cfg.LoggingConfig())
	log.Info().Str("path", *configPath).Int("bots", len(cfg.Bots)).Msg("loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("longpollctl stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	observability.RegisterMetrics()
	transportCfg := cfg.HTTPTransport()
	app := longpoll.NewApplication(
		longpoll.WithSessionDefaults(cfg.SessionDefaults()),
		longpoll.WithTransportFactory(func() (botapi.Transport, error) {
			return botapi.NewHTTPTransport(transportCfg)
		}),
		longpoll.WithAfterRegistration(func(s *longpoll.Session) {
			log.Info().
				Str("bot", s.Label()).
				Str("endpoint", s.Config().Endpoint.String()).
				Int64("last_seen_id", s.LastSeenID()).
				Msg("bot polling")
		}),
	)
	defer app.Close()

	for _, bot := range cfg.Bots {
		opts, err := bot.SessionOptions()
		if err != nil {
			return err
		}
		consumer, _ := botConsumer(ctx, bot.Name)
		if _, err := app.RegisterBot(ctx, bot.Token, consumer, opts...); err != nil {
			return fmt.Errorf("register bot %q: %w", bot.Name, err)
		}
	}

	errCh := make(chan error, 1)
	if cfg.Admin.Enabled {
		srv := admin.New(cfg.Admin.Name, cfg.Admin.Addr, cfg.Admin.CorsOrigins, app)
		if cfg.Admin.AuthToken != "" {
			srv.RequireToken(auth.StaticToken(cfg.Admin.AuthToken))
		}
		go func() { errCh <- srv.Serve(ctx) }()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
	}

	sessions := app.Sessions()
	_ = app.Close()
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for _, s := range sessions {
		if err := s.Wait(drainCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	log.Info().Msg("longpollctl stopped")
	return nil
}

// botConsumer gives one bot its own chat sessions, swept until ctx ends.
func botConsumer(ctx context.Context, name string) (longpoll.Consumer, *chatsession.Manager) {
	chats := chatsession.NewManager(chatsession.DefaultTTL)
	go chats.Run(ctx, time.Minute)
	return chatsession.Consumer(chats, logUpdate(name)), chats
}

// logUpdate logs each update and counts messages per chat.
func logUpdate(bot string) chatsession.Handler {
	return func(_ context.Context, update botapi.Update, chat *chatsession.Session) error {
		event := log.Info().Str("bot", bot).Int64("update_id", update.UpdateID)
		if chat != nil {
			count := 1
			if v, ok := chat.Get("messages"); ok {
				count = v.(int) + 1
			}
			chat.Set("messages", count)
			event = event.Int64("chat_id", chat.ChatID).Str("user", chat.UserName).Int("chat_messages", count)
		}
		if msg := update.ChatMessage(); msg != nil && msg.Text != "" {
			event = event.Str("text", msg.Text)
		}
		event.Msg("update received")
		return nil
	}
}
