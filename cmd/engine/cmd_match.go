package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/matching"
	"github.com/cragmate/partner-engine/internal/messaging"
	"github.com/cragmate/partner-engine/internal/metrics"
	"github.com/cragmate/partner-engine/internal/model"
	"github.com/cragmate/partner-engine/internal/ratelimit"
)

const matchTimeout = 5 * time.Second

var errMatchThrottled = errors.New("too many match requests, try again shortly")

func runMatches(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	req := messaging.MatchRequest{
		UserID: model.UserID(matchUser),
		TripID: model.TripID(matchTrip),
		Limit:  matchLimit,
	}
	if matchViaNATS {
		return requestMatches(ctx, req)
	}

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	results, err := matchHandler(ctx, e, nil)(req)
	if err != nil {
		return err
	}
	return printJSON(results)
}

// requestMatches asks a running engine for the list over match.request.
func requestMatches(ctx context.Context, req messaging.MatchRequest) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is not configured")
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()
	nc, err := connectNATS(cfg, log, "partner-engine-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(ctx, matchTimeout)
	defer cancel()
	var reply any
	if err := nc.RequestMatches(ctx, req, &reply); err != nil {
		return err
	}
	if m, ok := reply.(map[string]any); ok {
		if msg, ok := m["error"].(string); ok {
			return fmt.Errorf("engine: %s", msg)
		}
	}
	return printJSON(reply)
}

// matchHandler answers one match request against the local services.
// limiter may be nil.
func matchHandler(ctx context.Context, e *engine, limiter *ratelimit.Limiter) func(messaging.MatchRequest) (any, error) {
	return func(req messaging.MatchRequest) (any, error) {
		if limiter != nil {
			allowed, _ := limiter.Allow(ctx, string(req.UserID), ratelimit.RuleMatchRequest)
			if !allowed {
				metrics.MatchRequests.WithLabelValues("throttled").Inc()
				return nil, errMatchThrottled
			}
		}

		limit := req.Limit
		if limit <= 0 {
			limit = e.cfg.Matching.DefaultLimit
		}
		rctx, cancel := context.WithTimeout(ctx, matchTimeout)
		defer cancel()

		var (
			results []matching.MatchResult
			err     error
		)
		if req.TripID == "" {
			results, err = e.matcher.GetMatchesForActiveTrip(rctx, req.UserID, limit)
		} else {
			results, err = e.matcher.GetMatches(rctx, req.UserID, req.TripID, limit)
		}
		if err != nil {
			return nil, err
		}
		if results == nil {
			results = []matching.MatchResult{}
		}
		return results, nil
	}
}
