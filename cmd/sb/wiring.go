package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/zulandar/signalbox/internal/alert"
	"github.com/zulandar/signalbox/internal/alert/discord"
	"github.com/zulandar/signalbox/internal/alert/slack"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/i18n"
	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/rates"
	"github.com/zulandar/signalbox/internal/session"
	"github.com/zulandar/signalbox/internal/ussd"
	"gorm.io/gorm"
)

const defaultConfigPath = "signalbox.yaml"

// loadConfig reads path, falling back to defaults when the default path
// does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// openSandbox connects the ledger database and migrates it.
func openSandbox(cfg *config.Config) (*ledger.Sandbox, *gorm.DB, error) {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	sb, err := ledger.NewSandbox(ledger.SandboxOpts{
		DB:       gormDB,
		Rates:    rates.NewTable(cfg.Rates),
		Currency: cfg.USSD.DefaultCurrency,
		Logger:   logging.WithComponent("ledger"),
	})
	if err != nil {
		return nil, nil, err
	}
	return sb, gormDB, nil
}

// newStore builds the configured session backend.
func newStore(cfg *config.Config) (session.Store, func() error, error) {
	switch cfg.Session.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
		})
		store, err := session.NewRedisStore(session.RedisOpts{
			Client:      client,
			Prefix:      cfg.Session.Redis.Prefix,
			IdleTimeout: cfg.Session.IdleTimeout,
			Lang:        cfg.USSD.Language,
		})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil
	case "memory", "":
		store := session.NewMemoryStore(session.MemoryOpts{IdleTimeout: cfg.Session.IdleTimeout, Lang: cfg.USSD.Language})
		return store, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session backend %q", cfg.Session.Backend)
	}
}

// newNotifier builds the platform notifiers enabled in cfg. It returns
// alert.Nop when none are.
func newNotifier(cfg *config.Config) (alert.Notifier, error) {
	var multi alert.Multi
	if cfg.Alerts.SlackWebhook != "" {
		n, err := slack.New(slack.NotifierOpts{WebhookURL: cfg.Alerts.SlackWebhook, Service: "signalbox"})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
	}
	if cfg.Alerts.DiscordToken != "" {
		n, err := discord.New(discord.NotifierOpts{
			BotToken:  cfg.Alerts.DiscordToken,
			ChannelID: cfg.Alerts.DiscordChannel,
			Service:   "signalbox",
		})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
	}
	switch len(multi) {
	case 0:
		return alert.Nop{}, nil
	case 1:
		return multi[0], nil
	}
	return multi, nil
}

// newEngine wires the router and engine over backend and store.
func newEngine(cfg *config.Config, backend ledger.Backend, store session.Store, alerts alert.Notifier, log zerolog.Logger) (*ussd.Engine, *i18n.Catalog, error) {
	cat, err := i18n.New()
	if err != nil {
		return nil, nil, err
	}
	router, err := ussd.NewRouter(ussd.RouterOpts{
		Catalog:         cat,
		Backend:         backend,
		Refs:            ledger.NewRefDeriver(cfg.USSD.AccountKey),
		Alerts:          alerts,
		CountryCode:     cfg.USSD.CountryCode,
		ServiceCode:     cfg.USSD.ServiceCode,
		Language:        cfg.USSD.Language,
		Currencies:      cfg.USSD.Currencies,
		DefaultCurrency: cfg.USSD.DefaultCurrency,
		MaxPINAttempts:  cfg.USSD.MaxPINAttempts,
		Timeout:         cfg.USSD.CollaboratorTimeout,
		Logger:          log,
	})
	if err != nil {
		return nil, nil, err
	}
	engine, err := ussd.NewEngine(ussd.EngineOpts{
		Store:   store,
		Router:  router,
		Catalog: cat,
		Alerts:  alerts,
		Logger:  log,
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, cat, nil
}
