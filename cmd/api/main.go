package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Hashim-K/X-Booking/internal/api"
	"github.com/Hashim-K/X-Booking/internal/availability"
	"github.com/Hashim-K/X-Booking/internal/config"
	"github.com/Hashim-K/X-Booking/internal/events"
	"github.com/Hashim-K/X-Booking/internal/portal"
	"github.com/Hashim-K/X-Booking/internal/ratelimit"
	"github.com/Hashim-K/X-Booking/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	bus := events.NewBus(rdb, cfg.EventChannel)

	driver := portal.NewHTTPDriver(cfg.PortalBaseURL, cfg.AttemptTimeout)
	cache := availability.New(st, driver, bus, cfg.CacheTTL)

	hub := api.NewHub()
	updates, stop := bus.Subscribe(ctx)
	defer stop()
	go func() {
		for ev := range updates {
			hub.Broadcast(ev)
		}
	}()

	server, err := api.New(cfg, st, cache, driver, nil, limiter, hub)
	if err != nil {
		log.Fatalf("init api: %v", err)
	}
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
