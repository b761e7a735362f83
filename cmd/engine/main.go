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

	"github.com/Hashim-K/X-Booking/internal/accounts"
	"github.com/Hashim-K/X-Booking/internal/availability"
	"github.com/Hashim-K/X-Booking/internal/config"
	"github.com/Hashim-K/X-Booking/internal/coordinator"
	"github.com/Hashim-K/X-Booking/internal/events"
	"github.com/Hashim-K/X-Booking/internal/portal"
	"github.com/Hashim-K/X-Booking/internal/ratelimit"
	"github.com/Hashim-K/X-Booking/internal/scheduler"
	"github.com/Hashim-K/X-Booking/internal/store"
	"github.com/Hashim-K/X-Booking/internal/telemetry"
)

// rescanInterval bounds how long a job created through the API waits
// before this process learns about it.
const rescanInterval = 15 * time.Second

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
	pool := accounts.New(st)

	monitor := availability.NewMonitor(cache, st, limiter, cfg.MonitorLocations, cfg.MonitorDaysAhead, cfg.MonitorSchedule)
	if err := monitor.Start(ctx); err != nil {
		log.Fatalf("start availability monitor: %v", err)
	}

	coord := coordinator.New(st, pool, cache, driver, coordinator.Options{
		AttemptTimeout: cfg.AttemptTimeout,
		StoreRetryMax:  cfg.StoreRetryMax,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	})

	sched := scheduler.New(st, coord)
	if err := sched.Restore(ctx); err != nil {
		log.Fatalf("restore scheduled jobs: %v", err)
	}
	go func() {
		ticker := time.NewTicker(rescanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sched.Restore(ctx); err != nil {
					log.Printf("rescan scheduled jobs: %v", err)
				}
			}
		}
	}()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("engine started, monitor %q, cache ttl %s", cfg.MonitorSchedule, cfg.CacheTTL)
	if err := sched.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("scheduler stopped: %v", err)
	}
}
