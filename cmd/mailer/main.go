// Command mailer consumes verification requests from Kafka and delivers
// them over SMTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"vexekhach/internal/config"
	"vexekhach/internal/logging"
	"vexekhach/internal/mailer"
)

func main() {
	cfg, err := config.LoadMailer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	var t mailer.Transport = mailer.LogTransport{Log: log}
	if cfg.SMTP.Enabled() {
		t = &mailer.SMTPTransport{
			Host:      cfg.SMTP.Server,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			FromEmail: cfg.SMTP.FromEmail,
			FromName:  cfg.SMTP.FromName,
		}
	} else {
		log.Warn("SMTP not configured, emails will only be logged")
	}

	consumer := mailer.NewConsumer(
		cfg.Kafka.Broker, cfg.Kafka.Topic, cfg.Kafka.GroupID,
		mailer.KafkaAuth{Username: cfg.Kafka.Username, Password: cfg.Kafka.Password},
		mailer.NewVerificationMailer(t, cfg.BaseURL, cfg.VerificationTTL),
		cfg.EmailSendTimeout,
		log.WithField("svc", "mailer"),
	)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{"topic": cfg.Kafka.Topic, "group": cfg.Kafka.GroupID}).Info("mailer listening")
	if err := consumer.Run(ctx); err != nil {
		log.WithError(err).Error("consumer stopped")
	}
}
