package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hexgeo/geobridge/admin"
	"github.com/hexgeo/geobridge/alert"
	"github.com/hexgeo/geobridge/cfg"
	"github.com/hexgeo/geobridge/events"
	_ "github.com/hexgeo/geobridge/events/sink"
	"github.com/hexgeo/geobridge/geoserver"
	"github.com/hexgeo/geobridge/listener"
	"github.com/hexgeo/geobridge/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag, *cfg.EnvFileFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Geobridge - PostgreSQL to GeoServer schema provisioning")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	// Probe GeoServer before starting any listener. A bridge that cannot
	// reach GeoServer can only drop notifications.
	gsConfig := geoserverConfig()
	probe, err := geoserver.NewClient(gsConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid GeoServer configuration")
	}

	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 30*time.Second)
	err = probe.TestConnection(probeCtx)
	cancelProbe()
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.Config.GeoServer.URL).Msg("GeoServer is not reachable")
	}

	if *cfg.TestFlag {
		log.Info().Msg("GeoServer connectivity verified")
		return
	}
	if gsConfig.DryRun {
		log.Info().Msg("Dry run: provisioning calls will be logged, not executed")
	}

	// Alerting
	alerts := setupAlerts()

	// Provisioning event publishing
	publisher, err := events.NewPublisher(cfg.Config.Events, cfg.Config.InstanceID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize event publisher")
	}
	if publisher != nil {
		defer publisher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One listener per database target, each with its own GeoServer client.
	registry := listener.NewRegistry()
	listeners := make([]*listener.Listener, 0, len(cfg.Config.Databases))
	for _, target := range cfg.Config.Databases {
		client, err := geoserver.NewClient(gsConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid GeoServer configuration")
		}

		l, err := listener.New(listener.Options{
			Target:  target,
			Channel: cfg.Config.Listener.Channel,
			Dial:    listener.PGDialer,
			Dispatcher: &listener.ProvisioningDispatcher{
				Client:   client,
				Alerts:   alerts,
				Events:   publisher,
				Instance: cfg.Config.InstanceID,
			},
			Alerts:         alerts,
			Registry:       registry,
			ReconnectDelay: time.Duration(cfg.Config.Listener.ReconnectDelaySeconds) * time.Second,
			PollInterval:   time.Duration(cfg.Config.Listener.PollIntervalSeconds) * time.Second,
			Instance:       cfg.Config.InstanceID,
		})
		if err != nil {
			log.Fatal().Err(err).Str("database", target.DBName).Msg("Failed to build listener")
		}
		listeners = append(listeners, l)
	}

	var adminServer *admin.Server
	if cfg.Config.Admin.Enabled {
		adminServer = admin.NewServer(admin.NewHandlers(registry))
		adminServer.Start()
	}

	log.Info().
		Int("databases", len(listeners)).
		Str("channel", cfg.Config.Listener.Channel).
		Str("geoserver", cfg.Config.GeoServer.URL).
		Msg("Geobridge is operational")

	listener.NewSupervisor(listeners).Run(ctx)

	if adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		adminServer.Shutdown(shutdownCtx)
		cancel()
	}

	log.Info().Msg("Geobridge stopped")
}

func geoserverConfig() geoserver.Config {
	gs := cfg.Config.GeoServer
	return geoserver.Config{
		BaseURL:  gs.URL,
		User:     gs.User,
		Password: gs.Password,
		Timeout:  time.Duration(gs.TimeoutSeconds) * time.Second,
		Retry: geoserver.RetryPolicy{
			MaxRetries: gs.MaxRetries,
			BaseDelay:  time.Duration(gs.RetryBaseDelayMS) * time.Millisecond,
		},
		DryRun: *cfg.DryRunFlag,
	}
}

func setupAlerts() *alert.Notifier {
	if !cfg.Config.Alerts.Enabled {
		log.Info().Msg("Alerting disabled")
		return nil
	}

	mailer, err := alert.NewSMTPMailer(alert.SMTPConfig{
		Host:     cfg.Config.Alerts.SMTPHost,
		Port:     cfg.Config.Alerts.SMTPPort,
		User:     cfg.Config.Alerts.SMTPUser,
		Password: cfg.Config.Alerts.SMTPPass,
		From:     cfg.Config.Alerts.From,
		To:       cfg.Config.Alerts.To,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Alerting disabled: SMTP transport misconfigured")
		return nil
	}

	log.Info().Str("host", cfg.Config.Alerts.SMTPHost).Msg("SMTP alerting enabled")
	return alert.NewNotifier(mailer)
}
