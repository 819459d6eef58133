package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cragmate/partner-engine/internal/config"
	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/matching"
	"github.com/cragmate/partner-engine/internal/messaging"
	"github.com/cragmate/partner-engine/internal/store/memstore"
	"github.com/cragmate/partner-engine/internal/store/seed"
	"github.com/cragmate/partner-engine/internal/visibility"
)

func seededEngine(t *testing.T) *engine {
	t.Helper()
	st := memstore.New()
	require.NoError(t, applyFixture(context.Background(), "../../internal/store/seed/testdata/fixture.yaml", seed.Memory(st)))

	cfg := config.Default()
	cfg.Store.Driver = "memory"
	resolver := visibility.NewResolver(st)
	return &engine{
		cfg:      cfg,
		log:      logger.Nop(),
		store:    st,
		resolver: resolver,
		matcher:  matching.NewService(st, resolver, cfg.Matching.Weights, logger.Nop()),
	}
}

func TestMatchHandler_NoActiveTripIsEmptyList(t *testing.T) {
	e := seededEngine(t)
	out, err := matchHandler(context.Background(), e, nil)(messaging.MatchRequest{UserID: "carol"})
	require.NoError(t, err)
	results, ok := out.([]matching.MatchResult)
	require.True(t, ok)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestMatchHandler_ForeignTrip(t *testing.T) {
	e := seededEngine(t)
	_, err := matchHandler(context.Background(), e, nil)(messaging.MatchRequest{UserID: "alice", TripID: "bob-rrg"})
	assert.ErrorIs(t, err, matching.ErrTripNotEligible)
}
