// Command rollwatchd is the composition root: it loads configuration,
// wires the repository, market-data provider chain, notification
// channels, and the engines (Monitor, Notifier, Bridge, Dashboard),
// then runs the scheduler until terminated. The Monitor and startup
// log through a plain *log.Logger; the bridge, dashboard and scheduler
// log structured through logrus.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rollwatch/rollwatch/internal/bridge"
	"github.com/rollwatch/rollwatch/internal/channel"
	"github.com/rollwatch/rollwatch/internal/config"
	"github.com/rollwatch/rollwatch/internal/dashboard"
	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/notifier"
	"github.com/rollwatch/rollwatch/internal/monitor"
	"github.com/rollwatch/rollwatch/internal/quotecache"
	"github.com/rollwatch/rollwatch/internal/repo/jsonrepo"
	"github.com/rollwatch/rollwatch/internal/retry"
	"github.com/rollwatch/rollwatch/internal/scheduler"
	"github.com/rollwatch/rollwatch/internal/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	bridgePort := flag.Int("bridge-port", 8081, "port the MT5 bridge HTTP server listens on")
	dashboardPort := flag.Int("dashboard-port", 8082, "port the read-only dashboard HTTP server listens on")
	flag.Parse()

	_ = godotenv.Load()

	engineLogger := log.New(os.Stdout, "[rollwatchd] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		engineLogger.Fatalf("loading config: %v", err)
	}

	httpLogger := logrus.New()
	if cfg.Environment.Mode == "production" {
		httpLogger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		httpLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level, lerr := logrus.ParseLevel(cfg.Environment.LogLevel); lerr == nil {
		httpLogger.SetLevel(level)
	}

	store, err := jsonrepo.New(cfg.Storage.Path)
	if err != nil {
		engineLogger.Fatalf("opening storage at %q: %v", cfg.Storage.Path, err)
	}

	cache := quotecache.New(cfg.QuoteTTL())
	provider := buildProvider(cfg, cache)
	channels := buildChannels(cfg)

	loc, err := cfg.SessionLocation()
	if err != nil {
		engineLogger.Fatalf("resolving session timezone: %v", err)
	}
	win := session.Window{
		Location:    loc,
		OpenHour:    cfg.Session.OpenHour,
		OpenMinute:  cfg.Session.OpenMinute,
		CloseHour:   cfg.Session.CloseHour,
		CloseMinute: cfg.Session.CloseMinute,
	}

	monitorEngine := &monitor.Engine{
		Accounts:              store,
		Positions:             store,
		Rules:                 store,
		Alerts:                store,
		Provider:              provider,
		Session:               win,
		Logger:                engineLogger,
		ExpirationWindowDays:  3,
		MaxConcurrentAccounts: 4,
	}

	notifierEngine := &notifier.Engine{
		Accounts:        store,
		Positions:       store,
		Alerts:          store,
		Logs:            store,
		Provider:        provider,
		Channels:        channels,
		Session:         win,
		MaxRetries:      cfg.Schedule.MaxNotificationRetries,
		RetryPolicy:     retry.DefaultPolicy,
		DispatchLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}

	sched := scheduler.New(
		scheduler.Config{
			MonitorInterval:  cfg.MonitorInterval(),
			NotifierInterval: cfg.NotifierInterval(),
			CleanupCron:      cfg.Schedule.CleanupCron,
			ExpireCron:       cfg.Schedule.ExpirePositionsCron,
			Location:         loc,
		},
		httpLogger,
		func(ctx context.Context, now time.Time) error {
			_, err := monitorEngine.Run(ctx, now)
			return err
		},
		func(ctx context.Context, now time.Time) error {
			_, err := notifierEngine.Run(ctx, now)
			return err
		},
		func(ctx context.Context, now time.Time) error {
			_, err := store.CleanupOldAlerts(ctx, 30*24*time.Hour)
			if err != nil {
				return err
			}
			_, err = store.CleanupOldLogs(ctx, 90*24*time.Hour)
			return err
		},
		func(ctx context.Context, now time.Time) error {
			_, err := store.ExpireOverduePositions(ctx, now)
			return err
		},
	)
	sched.Start()
	defer sched.Stop()

	bridgeServer := bridge.New(cache, notifierEngine, bridge.Config{
		Enabled:    cfg.Bridge.Enabled,
		Token:      cfg.Bridge.Token,
		AllowedIPs: cfg.Bridge.AllowedIPs,
		QuoteTTL:   cfg.QuoteTTL(),
	}, httpLogger)

	dashboardServer := dashboard.New(cache, store, store, store, store, provider, sched, dashboard.Config{
		Port:      *dashboardPort,
		AuthToken: cfg.Bridge.Token,
	}, httpLogger)

	httpServers := []*http.Server{
		{Addr: portAddr(*bridgePort), Handler: bridgeServer.Handler()},
		{Addr: portAddr(*dashboardPort), Handler: dashboardServer.Handler()},
	}
	for _, srv := range httpServers {
		srv := srv
		go func() {
			engineLogger.Printf("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				engineLogger.Printf("http server on %s stopped: %v", srv.Addr, err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	engineLogger.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range httpServers {
		_ = srv.Shutdown(shutdownCtx)
	}
}

func portAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}

func buildProvider(cfg *config.Config, cache *quotecache.Cache) marketdata.Provider {
	switch cfg.MarketData.Provider {
	case "mock":
		return marketdata.NewMockProvider()
	case "mt5":
		return marketdata.NewMT5StrictProvider(cache, cfg.QuoteTTL())
	case "brapi":
		return marketdata.NewExternalHTTPProvider(marketdata.ExternalHTTPConfig{
			BaseURL: cfg.MarketData.ExternalBaseURL,
			APIKey:  cfg.MarketData.ExternalAPIKey,
		})
	case "hybrid":
		var fallback marketdata.Provider
		if cfg.MarketData.HybridFallback == "brapi" {
			fallback = marketdata.NewExternalHTTPProvider(marketdata.ExternalHTTPConfig{
				BaseURL: cfg.MarketData.ExternalBaseURL,
				APIKey:  cfg.MarketData.ExternalAPIKey,
			})
		} else {
			fallback = marketdata.NewMockProvider()
		}
		return marketdata.NewHybridProvider(cache, cfg.QuoteTTL(), fallback)
	default:
		return marketdata.NewMockProvider()
	}
}

func buildChannels(cfg *config.Config) map[models.Channel]channel.Channel {
	out := make(map[models.Channel]channel.Channel)

	out[models.ChannelWhatsApp] = channel.NewWhatsAppChannel(channel.WhatsAppConfig{
		PrimaryURL:   cfg.Channels.WhatsApp.PrimaryURL,
		FallbackURL:  cfg.Channels.WhatsApp.FallbackURL,
		LoginURL:     cfg.Channels.WhatsApp.LoginURL,
		StaticAPIKey: cfg.Channels.WhatsApp.StaticAPIKey,
		Username:     cfg.Channels.WhatsApp.Username,
		Password:     cfg.Channels.WhatsApp.Password,
	})

	out[models.ChannelSMS] = channel.NewSMSChannel(channel.SMSConfig{
		PrimaryURL:   cfg.Channels.SMS.PrimaryURL,
		FallbackURL:  cfg.Channels.SMS.FallbackURL,
		LoginURL:     cfg.Channels.SMS.LoginURL,
		StaticAPIKey: cfg.Channels.SMS.StaticAPIKey,
		Username:     cfg.Channels.SMS.Username,
		Password:     cfg.Channels.SMS.Password,
	})

	if cfg.Channels.Email.APIKey != "" {
		emailChannel, err := channel.NewEmailChannel(channel.EmailConfig{
			APIKey:    cfg.Channels.Email.APIKey,
			FromEmail: cfg.Channels.Email.FromEmail,
			FromName:  cfg.Channels.Email.FromName,
		})
		if err == nil {
			out[models.ChannelEmail] = emailChannel
		}
	}

	return out
}
