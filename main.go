package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"donation-service/internal/config"
	"donation-service/internal/dispatch"
	"donation-service/internal/document"
	"donation-service/internal/form"
	"donation-service/internal/handler"
	"donation-service/internal/publisher"
	"donation-service/internal/repository"
	"donation-service/internal/sender"
	"donation-service/internal/service"
	"donation-service/internal/session"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	log.Info("Starting donation service...")

	// .env is looked up both locally and one level up
	cfg, err := config.Load(".env", "../.env")
	if err != nil {
		log.WithError(err).Fatal("Could not load configuration")
	}
	log.SetLevel(cfg.ParsedLogLevel())

	schema, err := form.LoadSchema(cfg.FormSchemaPath)
	if err != nil {
		log.WithError(err).Fatal("Could not load form schema")
	}

	formatter := document.Formatter{ResearcherName: cfg.ResearcherName, ZeroPadDate: cfg.DateZeroPad}
	renderer := document.NewRenderer(document.NewDocxEngine(), cfg.TemplatePath, formatter)
	if err := renderer.Check(); err != nil {
		log.WithError(err).Warn("Donation template is not usable; document generation will fail until it is fixed")
	}

	mailErr := cfg.MailReady()
	if mailErr != nil {
		log.WithError(mailErr).Warn("Email delivery disabled")
	}
	mode := dispatch.Mode(cfg.EmailMode)
	if !mode.Valid() {
		log.WithField("email_mode", cfg.EmailMode).Warn("Unknown email mode, falling back to direct-send")
	}
	emailSender := sender.NewSMTPEmailSender(
		cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.MailFrom,
		sender.TLSMode(cfg.SMTP.TLS), cfg.SMTP.Timeout,
	)
	dispatcher := dispatch.New(dispatch.Settings{
		Mode:        mode,
		Recipient:   cfg.Recipient,
		From:        cfg.MailFrom,
		Affiliation: cfg.ResearcherAffiliation,
		Contact:     cfg.ContactAddress,
		Unavailable: mailErr,
	}, formatter, emailSender)
	log.WithField("email_mode", dispatcher.Mode()).Info("Email delivery configured")

	opts := []service.Option{service.WithSendRetry(cfg.SendAttempts, time.Second)}

	if cfg.DatabaseURL != "" {
		db, err := repository.Open(cfg.DatabaseURL, cfg.MigrationsPath)
		if err != nil {
			log.WithError(err).Fatal("Could not connect to database")
		}
		defer db.Close()
		opts = append(opts, service.WithSubmissionRepository(repository.NewPostgresSubmissionRepository(db)))
	} else {
		log.Info("DATABASE_URL is not set; submission logs are not persisted")
	}

	if cfg.KafkaBootstrapServers != "" {
		log.WithField("kafka_servers", cfg.KafkaBootstrapServers).Info("Connecting to Kafka")
		pub, err := publisher.NewKafkaPublisher(cfg.KafkaBootstrapServers, cfg.KafkaTopic)
		if err != nil {
			log.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer pub.Close()
		opts = append(opts, service.WithEventPublisher(pub))
	}

	svc := service.NewDonationService(schema, renderer, dispatcher, opts...)
	h, err := handler.New(svc, session.NewStore(cfg.SessionTTL), schema, formatter)
	if err != nil {
		log.WithError(err).Fatal("Could not build HTTP handler")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("Listening for HTTP requests")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigchan:
		log.Infof("Caught signal %v: terminating", sig)
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("HTTP server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
	log.Info("Donation service stopped")
}
