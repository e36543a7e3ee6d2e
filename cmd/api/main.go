package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-staff/internal/account"
	accountrepo "github.com/ovaphlow/pitchfork/service-staff/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-staff/internal/auth"
	"github.com/ovaphlow/pitchfork/service-staff/internal/emailgen"
	"github.com/ovaphlow/pitchfork/service-staff/internal/news"
	newsrepo "github.com/ovaphlow/pitchfork/service-staff/internal/news/repo"
	"github.com/ovaphlow/pitchfork/service-staff/internal/notification"
	notifrepo "github.com/ovaphlow/pitchfork/service-staff/internal/notification/repo"
	"github.com/ovaphlow/pitchfork/service-staff/internal/router"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/database"
	"github.com/ovaphlow/pitchfork/service-staff/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-staff")

	cfg := database.ConfigFromEnv()
	db, err := database.Connect(cfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// accounts first, notifications and news reference it
	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	accounts := accountrepo.NewAccountRepo(db)
	notifications := notifrepo.NewNotificationRepo(db)
	if err := accounts.EnsureTable(initCtx); err != nil {
		sugar.Fatalf("ensure accounts table: %v", err)
	}
	if err := notifications.EnsureTable(initCtx); err != nil {
		sugar.Fatalf("ensure notifications table: %v", err)
	}
	if err := newsrepo.NewNewsRepo(db).EnsureTable(initCtx); err != nil {
		sugar.Fatalf("ensure news table: %v", err)
	}
	cancelInit()

	ids, err := utilities.IDGeneratorFromEnv()
	if err != nil {
		sugar.Fatalf("id generator: %v", err)
	}

	policy, err := account.NewPasswordPolicy(account.PolicyConfigFromEnv())
	if err != nil {
		sugar.Warnw("password denylist not loaded, checking without it", "err", err)
	}
	creds := account.NewCredentialStore(policy, account.BcryptHasher{Cost: account.BcryptCostFromEnv()})

	issuer, err := auth.NewIssuer(auth.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("token issuer: %v", err)
	}

	sink := notification.NewService(notifications, ids)
	svc := account.NewService(db, sink, creds, emailgen.FromEnv(), ids, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := router.RegisterRoutes(sugar, router.Deps{
		Accounts:      account.NewHandler(svc, issuer, sugar),
		Notifications: notification.NewHandler(sink, sugar),
		News:          news.NewHandler(news.NewService(db, ids, sugar), sugar),
		Issuer:        issuer,
		Lookup:        svc,
	})
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running", "addr", addr, "db_driver", cfg.Driver)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
