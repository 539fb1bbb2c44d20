package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/mahaj/staff-chat/pkg/auth"
	"github.com/mahaj/staff-chat/pkg/config"
	"github.com/mahaj/staff-chat/pkg/engine"
	"github.com/mahaj/staff-chat/pkg/identity"
	"github.com/mahaj/staff-chat/pkg/logger"
	"github.com/mahaj/staff-chat/pkg/media"
	"github.com/mahaj/staff-chat/pkg/presence"
	"github.com/mahaj/staff-chat/pkg/registry"
	"github.com/mahaj/staff-chat/pkg/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHAT_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.Env == "development")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		st     store.Store
		ledger store.Ledger
	)
	if cfg.Mongo.URI != "" {
		mg, err := store.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, log)
		if err != nil {
			log.Fatalw("mongo connect failed", "uri", cfg.Mongo.URI, "err", err)
		}
		defer mg.Close(context.Background())
		st, ledger = mg, mg
	} else {
		log.Warn("no mongo uri configured, using in-memory store")
		mem := store.NewMemory()
		st, ledger = mem, mem
	}

	var tracker *presence.Tracker
	if cfg.Redis.Addr != "" {
		tracker = presence.NewTracker(cfg.Redis.Addr)
		defer tracker.Close()
	}

	var relay *engine.Relay
	if len(cfg.Kafka.Brokers) > 0 {
		relay = engine.NewRelay(log, cfg.Kafka.Brokers, cfg.Kafka.Topic, "gateway-"+uuid.NewString())
		defer relay.Close()
	}

	reg := registry.New()
	eng, err := engine.New(log, st, ledger, reg, engine.Options{
		Resolver: identity.NewStatic(nil),
		Presence: tracker,
		Relay:    relay,
	})
	if err != nil {
		log.Fatalw("engine init failed", "err", err)
	}
	if relay != nil {
		go relay.Run(ctx)
	}

	var uploads media.Store
	if cfg.Media.Bucket != "" {
		uploads, err = media.NewS3Store(ctx, cfg.Media.Region, cfg.Media.Bucket)
		if err != nil {
			log.Fatalw("media store init failed", "bucket", cfg.Media.Bucket, "err", err)
		}
	}

	tokens := auth.NewManager(cfg.JWTSecret, 0)

	mux := http.NewServeMux()
	NewServer(log, eng, tokens, tracker, uploads).Routes(mux)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(eng, tokens, cfg, log, w, r)
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Infow("gateway listening", "addr", cfg.Addr, "origin", eng.Origin())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalw("server failed", "err", err)
	}
}
