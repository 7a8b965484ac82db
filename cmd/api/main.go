package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"userhub.org/internal/auth"
	"userhub.org/internal/config"
	"userhub.org/internal/httpapi"
	"userhub.org/internal/obs"
	"userhub.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	configPath := flag.String("config", os.Getenv("USERHUB_CONFIG_PATH"), "Path to YAML config (optional)")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("USERHUB_COMMIT"))

	cfg := config.MustLoad(*configPath)

	store, err := pg.Open(cfg.DB.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	recorder := auth.NewRecorder(store)
	hasher := auth.NewHasher(cfg.Auth.PasswordHashCost)

	accounts, err := auth.NewAccounts(store, hasher,
		auth.WithRecorder(recorder),
		auth.WithMinPasswordLength(cfg.Auth.MinPasswordLength),
		auth.WithVerificationTTL(cfg.Auth.VerificationTokenTTL),
		auth.WithResetTTL(cfg.Auth.ResetTokenTTL),
	)
	if err != nil {
		log.Fatalf("accounts: %v", err)
	}

	issuer, err := auth.NewIssuer(store, cfg.Auth.TokenSecret,
		auth.WithIssuerName(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTokenTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTokenTTL),
		auth.WithIssuerRecorder(recorder),
	)
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}

	resolver, err := auth.NewResolver(store, auth.WithResolverRecorder(recorder))
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: store.DB()}
	api := httpapi.New(httpapi.Options{
		Ready:    probe,
		Version:  version,
		Accounts: accounts,
		Issuer:   issuer,
		Resolver: resolver,
		Recorder: recorder,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPServer.Address,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTPServer.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTPServer.ReadTimeout,
		WriteTimeout:      cfg.HTTPServer.WriteTimeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	grpcHealth := httpapi.NewGRPCHealth(probe)
	go func() {
		if err := grpcHealth.Serve(ctx, cfg.GRPCServer.Address); err != nil {
			log.Printf("grpc health: %v", err)
		}
	}()

	log.Printf("Starting userhub-api %s (%s) on %s", version, cfg.Env, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
