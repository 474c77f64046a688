package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/digitalstrom/vdchost/internal/api"
	"github.com/digitalstrom/vdchost/internal/audit"
	"github.com/digitalstrom/vdchost/internal/auth"
	"github.com/digitalstrom/vdchost/internal/config"
	"github.com/digitalstrom/vdchost/internal/dnssd"
	"github.com/digitalstrom/vdchost/internal/entity"
	"github.com/digitalstrom/vdchost/internal/eventbus"
	"github.com/digitalstrom/vdchost/internal/host"
	"github.com/digitalstrom/vdchost/internal/persistence"
	"github.com/digitalstrom/vdchost/pkg/secret"
)

func main() {
	configPath := flag.String("config", "config/vdchost.yml", "path to the host's YAML config file")
	showConfig := flag.Bool("show-config", false, "print the loaded configuration and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("configPath", *configPath).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("invalid log level, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}

	vdcHost, err := entity.NewVdcHost(cfg.Host.Mac, cfg.Host.Port)
	if err != nil {
		log.Fatal().Err(err).Str("mac", cfg.Host.Mac).Msg("failed to derive host dSUID")
	}
	vdcHost.Common.Name = cfg.Host.Name
	vdcHost.Common.Model = cfg.Host.Model
	if cfg.Host.ModelUID != "" {
		vdcHost.Common.ModelUID = cfg.Host.ModelUID
	}

	if !cfg.Persistence.Disabled {
		store := persistence.New(cfg.Persistence.StateFile)
		vdcHost.SetStore(store)
		if found, err := vdcHost.LoadFromStore(); err != nil {
			log.Warn().Err(err).Msg("failed to restore persisted state, starting fresh")
		} else if found {
			log.Info().Int("vdcs", len(vdcHost.Vdcs())).Msg("restored persisted entity tree")
		}
	}

	runtime := host.New(vdcHost)

	if cfg.DNSSD.Enabled {
		runtime.SetAdvertiser(&dnssd.Advertiser{}, cfg.DNSSD.InstanceName)
	}

	bus := eventbus.New(eventbus.Config{
		NATSEnabled:   cfg.Integrations.NATS.Enabled,
		NATSURL:       cfg.Integrations.NATS.URL,
		SubjectPrefix: cfg.Integrations.NATS.SubjectPrefix,
		MaxReconnects: cfg.Integrations.NATS.MaxReconnects,
		ReconnectWait: cfg.Integrations.NATS.ReconnectInterval,
		MQTTEnabled:   cfg.Integrations.MQTT.Enabled,
		BrokerURL:     cfg.Integrations.MQTT.BrokerURL,
		TopicPrefix:   cfg.Integrations.MQTT.TopicPrefix,
		ClientID:      cfg.Integrations.MQTT.ClientID,
		Username:      cfg.Integrations.MQTT.Username,
		Password:      cfg.Integrations.MQTT.Password,
	})
	defer bus.Close()

	var auditDB *audit.Store
	if cfg.Audit.DSN != "" {
		auditDB, err = audit.Open(cfg.Audit.DSN, cfg.Audit.MaxOpenConns, cfg.Audit.MaxIdleConns, cfg.Audit.ConnMaxLifetime)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect audit database, continuing without an audit log")
		} else {
			defer auditDB.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := auditDB.EnsureSchema(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to ensure audit schema, continuing without an audit log")
				auditDB.Close()
				auditDB = nil
			}
			cancel()
		}
	}

	runtime.SetEventSink(bus, auditDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runtime.Start(ctx, cfg.Host.BindAddress, cfg.Host.Port, cfg.DNSSD.Enabled); err != nil {
		log.Fatal().Err(err).Msg("failed to start vdc host listener")
	}

	var apiServer *api.Server
	if cfg.AdminAPI.Enabled {
		jwtSecret := cfg.AdminAPI.JWTSecret
		if jwtSecret == "" {
			jwtSecret, err = secret.GenerateRandomString(32)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to generate a random admin API JWT secret")
			}
			log.Warn().Msg("adminAPI.jwtSecret not set, generated an ephemeral one for this process")
		}
		authMgr := auth.NewManager(jwtSecret, cfg.AdminAPI.TokenTTL)
		apiServer = api.New(vdcHost, runtime, auditDB, authMgr, cfg.AdminAPI.AdminUser, cfg.AdminAPI.AdminPasswordHash)
		go func() {
			if err := apiServer.ListenAndServe(cfg.AdminAPI.ListenAddress); err != nil {
				log.Error().Err(err).Msg("admin API server stopped")
			}
		}()
	}

	log.Info().
		Str("dSUID", vdcHost.Common.DSUID.String()).
		Str("bindAddress", cfg.Host.BindAddress).
		Int("port", cfg.Host.Port).
		Msg("vdc host started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	cancel()

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("admin API server did not shut down cleanly")
		}
		shutdownCancel()
	}

	if err := runtime.Stop(); err != nil {
		log.Warn().Err(err).Msg("error stopping vdc host listener")
	}
	if err := vdcHost.Flush(); err != nil {
		log.Warn().Err(err).Msg("error flushing persisted state on shutdown")
	}

	log.Info().Msg("vdc host stopped")
}
