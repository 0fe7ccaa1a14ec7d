package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accountsvc/internal/auth"
	"accountsvc/internal/config"
	"accountsvc/internal/email"
	"accountsvc/internal/httpapi"
	"accountsvc/internal/notify"
	"accountsvc/internal/service"
	"accountsvc/internal/store/memory"
	"accountsvc/internal/store/mongodb"
	"accountsvc/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	users, dbPing, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, closeNotifier := newNotifier(cfg, logger)
	defer closeNotifier()

	accounts := &service.AccountService{
		Users: users,
		Tokens: &auth.TokenIssuer{
			OTPDigits:        cfg.OTPDigits,
			OTPTTL:           cfg.OTPTTL,
			EmailProofTTL:    cfg.EmailProofTTL,
			PasswordResetTTL: cfg.PasswordResetTTL,
		},
		Passwords:          auth.NewArgon2Hasher(),
		Notifier:           notifier,
		Logger:             logger,
		RevealUnknownEmail: cfg.RevealUnknownEmail,
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewRouter(httpapi.RouterOpts{
			Logger:   logger,
			IsProd:   cfg.IsProd(),
			DBPing:   dbPing,
			Accounts: accounts,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr, "store", cfg.Store, "notifier", cfg.Notifier)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (service.UsersStore, func(context.Context) error, func(), error) {
	switch cfg.Store {
	case config.StoreMongo:
		openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		client, err := mongodb.Open(openCtx, cfg.MongoURI)
		if err != nil {
			return nil, nil, nil, err
		}
		users := mongodb.NewUsersStore(client.Database(cfg.MongoDB).Collection(cfg.MongoCollection))
		if err := users.EnsureIndexes(openCtx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		logger.Info("store ready", "store", "mongo", "db", cfg.MongoDB, "collection", cfg.MongoCollection)
		return users, users.Ping, func() { _ = client.Disconnect(context.Background()) }, nil

	case config.StorePostgres:
		pool, err := postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		logger.Info("store ready", "store", "postgres")
		return postgres.NewUsersStore(pool), pool.Ping, pool.Close, nil

	default:
		logger.Warn("using in-memory store; data is lost on restart")
		users := memory.NewUsersStore()
		return users, users.Ping, func() {}, nil
	}
}

func newNotifier(cfg config.Config, logger *slog.Logger) (service.Notifier, func()) {
	links := notify.Links{Base: cfg.PublicURL}

	switch cfg.Notifier {
	case config.NotifierSMTP:
		return &notify.MailNotifier{
			Sender: &email.Sender{
				Settings: email.SMTPSettings{
					Host:      cfg.SMTP.Host,
					Port:      cfg.SMTP.Port,
					Username:  cfg.SMTP.Username,
					Password:  cfg.SMTP.Password,
					TLSMode:   cfg.SMTP.TLSMode,
					FromEmail: cfg.SMTP.FromEmail,
					FromName:  cfg.SMTP.FromName,
				},
				Timeout: 15 * time.Second,
			},
			Links:   links,
			Product: cfg.SMTP.FromName,
		}, func() {}

	case config.NotifierKafka:
		n := &notify.KafkaNotifier{
			Writer: notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Username, cfg.Kafka.Password),
			Links:  links,
		}
		return n, func() {
			if err := n.Close(); err != nil {
				logger.Warn("kafka writer close failed", "err", err)
			}
		}

	default:
		return &notify.LogNotifier{Logger: logger, Links: links, RevealSecrets: !cfg.IsProd()}, func() {}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
