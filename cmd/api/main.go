package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"vexekhach/internal/accounts"
	"vexekhach/internal/config"
	"vexekhach/internal/database"
	"vexekhach/internal/logging"
	"vexekhach/internal/mailer"
	"vexekhach/internal/metrics"
	"vexekhach/internal/server"
	"vexekhach/internal/store"
	"vexekhach/internal/store/mongostore"
	"vexekhach/internal/store/mysqlstore"
	"vexekhach/internal/utils"
	"vexekhach/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.WithFields(logrus.Fields{"env": cfg.Env, "port": cfg.Port, "store": cfg.StoreDriver}).Info("config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("store init error")
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(cctx); err != nil {
			log.WithError(err).Warn("store close")
		}
	}()

	notifier, closeNotifier := newNotifier(cfg, log)
	defer closeNotifier()

	m := metrics.New()
	issuer := utils.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	svc := accounts.NewService(st.Users(), notifier, issuer, log, accounts.Options{
		VerificationTTL: cfg.VerificationTTL,
		EmailTimeout:    cfg.EmailSendTimeout,
		Metrics:         m,
	})

	srv := &server.Server{
		Addr:        cfg.Addr(),
		Store:       st,
		Accounts:    svc,
		Issuer:      issuer,
		Hubs:        ws.NewRegistry(log, m),
		Metrics:     m,
		CORSOrigins: cfg.CORSOrigins,
		Log:         log,
	}
	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("server error")
	}

	// let in-flight verification emails finish before the store goes away
	svc.Wait()
	log.Info("bye")
}

func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		db, err := database.Connect(ctx, cfg.DSN, log)
		if err != nil {
			return nil, err
		}
		// Run migrations if the directory exists (RunMigrations is tolerant if it is missing)
		if err := database.RunMigrations(ctx, db, "migrations", log); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return mysqlstore.New(db), nil
	default:
		client, err := database.ConnectMongo(ctx, cfg.MongoURI, log)
		if err != nil {
			return nil, err
		}
		st := mongostore.New(client, cfg.MongoDB)
		if err := st.EnsureIndexes(ctx); err != nil {
			_ = st.Close(context.Background())
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return st, nil
	}
}

// newNotifier publishes to Kafka when a broker is configured, otherwise it
// sends directly over SMTP, or only logs when SMTP is not configured either.
func newNotifier(cfg *config.Config, log *logrus.Logger) (mailer.Notifier, func()) {
	if cfg.Kafka.Enabled() {
		p := mailer.NewKafkaPublisher(cfg.Kafka.Broker, cfg.Kafka.Topic, mailer.KafkaAuth{
			Username: cfg.Kafka.Username,
			Password: cfg.Kafka.Password,
		})
		log.WithField("topic", cfg.Kafka.Topic).Info("verification emails go through kafka")
		return p, func() {
			if err := p.Close(); err != nil {
				log.WithError(err).Warn("kafka writer close")
			}
		}
	}
	return mailer.NewVerificationMailer(transport(cfg, log), cfg.BaseURL, cfg.VerificationTTL), func() {}
}

func transport(cfg *config.Config, log *logrus.Logger) mailer.Transport {
	if !cfg.SMTP.Enabled() {
		log.Warn("SMTP_SERVER or FROM_EMAIL not set, verification emails will only be logged")
		return mailer.LogTransport{Log: log}
	}
	return &mailer.SMTPTransport{
		Host:      cfg.SMTP.Server,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		FromEmail: cfg.SMTP.FromEmail,
		FromName:  cfg.SMTP.FromName,
	}
}
