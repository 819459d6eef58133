package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cragmate/partner-engine/internal/messaging"
	"github.com/cragmate/partner-engine/internal/metrics"
	"github.com/cragmate/partner-engine/internal/notify"
	"github.com/cragmate/partner-engine/internal/ratelimit"
	"github.com/cragmate/partner-engine/internal/scheduler"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	cfg, log := e.cfg, e.log

	var limiter *ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// The limiter fails open, so a missing Redis only disables throttling.
			log.Warn("redis not reachable, throttling fails open", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
		limiter = ratelimit.NewLimiter(rdb, log)
	}

	// Without NATS, notifications go to the log.
	var (
		nc   *messaging.NATSClient
		sink notify.Notifier = notify.NewLogSink(log)
	)
	if cfg.NATS.URL != "" {
		nc, err = connectNATS(cfg, log, "partner-engine")
		if err != nil {
			return err
		}
		defer nc.Close()
		sink = notify.NewNATSSink(nc)
	}
	dispatcher := notify.NewDispatcher(sink, cfg.Notify.QueueSize, log)
	defer dispatcher.Close()

	sched := scheduler.New(e.store, e.detector, e.manager, e.resolver, dispatcher, scheduler.Intervals{
		DetectAll:     cfg.Schedule.DetectAll,
		NotifyPending: cfg.Schedule.NotifyPending,
		CrossPath:     cfg.Schedule.CrossPath,
	}, log)
	if limiter != nil {
		sched.WithThrottle(limiter)
	}

	if nc != nil {
		sched.WithEvents(nc)
		err := nc.SubscribeTripChanged(cfg.NATS.Queue, func(ev messaging.TripChanged) {
			if _, err := sched.OnTripChanged(ctx, ev); err != nil {
				log.Error("trip changed handling failed", "trip_id", ev.TripID, "error", err)
			}
		})
		if err != nil {
			return err
		}
		if err := nc.HandleMatchRequests(cfg.NATS.Queue, matchHandler(ctx, e, limiter)); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	log.Info("partner engine running",
		"store", cfg.Store.Driver,
		"nats_url", cfg.NATS.URL,
		"redis_addr", cfg.Redis.Addr,
		"metrics_addr", cfg.Metrics.Addr,
	)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", "error", err)
	}
	wg.Wait()
	return nil
}
