package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	api "github.com/mind-engage/lti-tool/internal/api/http"
	"github.com/mind-engage/lti-tool/internal/config"
	"github.com/mind-engage/lti-tool/internal/db"
	"github.com/mind-engage/lti-tool/internal/lti/keyring"
	"github.com/mind-engage/lti-tool/internal/lti/launch"
	"github.com/mind-engage/lti-tool/internal/lti/resolver"
	"github.com/mind-engage/lti-tool/internal/lti/store"
)

func main() {
	rotateKeys := flag.Bool("rotate-keys", false, "add a fresh signing key, retire old ones, and exit")
	flag.Parse()

	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	st := store.NewSQLStore(dbh, cfg.DBDriver)
	kr := &keyring.Keyring{Store: st}

	if *rotateKeys {
		n, err := kr.Rotate(ctx, cfg.KeyRotationGrace)
		if err != nil {
			log.Fatalf("key rotation failed: %v", err)
		}
		log.Printf("key rotation done, %d old key(s) deactivated", n)
		return
	}

	if err := kr.Ensure(ctx); err != nil {
		log.Fatalf("signing key setup failed: %v", err)
	}

	validator := &launch.Validator{
		Store: st,
		Resolver: &resolver.Resolver{
			Store:                 st,
			AutoCreateDeployments: cfg.AutoCreateDeployments,
		},
		Cache:     launch.NewInMemoryCache(0),
		LaunchURL: cfg.LaunchURL(),
		StateTTL:  cfg.StateTTL,
		LaunchTTL: cfg.LaunchTTL,
	}

	r := api.NewRouter(api.Deps{
		Cfg:       cfg,
		Store:     st,
		Validator: validator,
		Keyring:   kr,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("lti tool listening on %s (public url %s)", cfg.HTTPAddr, cfg.PublicURL)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
