package monitor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/posmon/internal/domain"
	"github.com/alejandrodnm/posmon/internal/monitor"
)

func newTestUpdater(store *mockStore, market *mockMarket) *monitor.PositionUpdater {
	cfg := monitor.DefaultUpdaterConfig()
	cfg.BatchDelay = 0
	return monitor.NewPositionUpdater(cfg, store, market, func() time.Time { return baseTime })
}

func TestUpdater_StopLossScenario(t *testing.T) {
	store := &mockStore{positions: []domain.Position{makePosition(1, "BBCA", domain.StatusEntryHit, 5)}}
	market := newMarket(quote("BBCA", 945))

	res, err := newTestUpdater(store, market).Update(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Transitions, 1)

	tr := res.Transitions[0]
	assert.Equal(t, domain.StatusEntryHit, tr.From)
	assert.Equal(t, domain.StatusSLHit, tr.To)
	require.NotNil(t, tr.ExitPrice)
	require.NotNil(t, tr.ProfitLossPct)
	assert.InDelta(t, 945, *tr.ExitPrice, 1e-9)
	assert.InDelta(t, -5.5, *tr.ProfitLossPct, 1e-9)

	upd := store.Updates()
	require.Len(t, upd, 1)
	assert.Equal(t, domain.StatusSLHit, upd[0].To)
	assert.InDelta(t, -5.5, *upd[0].ProfitLossPct, 1e-9)
}

func TestUpdater_TargetScenario(t *testing.T) {
	store := &mockStore{positions: []domain.Position{makePosition(1, "BBCA", domain.StatusEntryHit, 5)}}
	market := newMarket(quote("BBCA", 1105))

	res, err := newTestUpdater(store, market).Update(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Transitions, 1)
	assert.Equal(t, domain.StatusTargetHit, res.Transitions[0].To)
	assert.InDelta(t, 10.5, *res.Transitions[0].ProfitLossPct, 1e-9)
}

func TestUpdater_PendingExpiryHasNoPnL(t *testing.T) {
	p := makePosition(7, "ASII", domain.StatusPending, 4)
	store := &mockStore{positions: []domain.Position{p}}
	market := newMarket(quote("ASII", 1200))

	res, err := newTestUpdater(store, market).Update(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Transitions, 1)
	tr := res.Transitions[0]
	assert.Equal(t, domain.StatusExpired, tr.To)
	assert.Nil(t, tr.ProfitLossPct)
	assert.Nil(t, tr.ExitPrice)

	upd := store.Updates()
	require.Len(t, upd, 1)
	assert.Nil(t, upd[0].ProfitLossPct)
	assert.Nil(t, store.positions[0].ProfitLossPct)
}

func TestUpdater_PendingEntry(t *testing.T) {
	p := makePosition(3, "UNVR", domain.StatusPending, 1)
	p.EntryPrice = 500
	store := &mockStore{positions: []domain.Position{p}}
	market := newMarket(quote("UNVR", 502))

	res, err := newTestUpdater(store, market).Update(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Transitions, 1)
	assert.Equal(t, domain.StatusEntryHit, res.Transitions[0].To)
	assert.Nil(t, res.Transitions[0].ProfitLossPct)
	require.NotNil(t, store.positions[0].EntryHitAt)
	assert.Equal(t, baseTime, *store.positions[0].EntryHitAt)

	require.Len(t, res.Tracked, 1)
	assert.Equal(t, domain.StatusEntryHit, res.Tracked[0].Status)
}

func TestUpdater_RerunIsIdempotent(t *testing.T) {
	store := &mockStore{positions: []domain.Position{makePosition(1, "BBCA", domain.StatusEntryHit, 5)}}
	market := newMarket(quote("BBCA", 945))
	u := newTestUpdater(store, market)

	_, err := u.Update(context.Background())
	require.NoError(t, err)

	res, err := u.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Checked, "la posición terminal ya no está en el open set")
	assert.Empty(t, res.Transitions)
	assert.Len(t, store.Updates(), 1)
}

func TestUpdater_TickerFailureSkipsOnlyItsPositions(t *testing.T) {
	store := &mockStore{positions: []domain.Position{
		makePosition(1, "BBCA", domain.StatusEntryHit, 5),
		makePosition(2, "BBRI", domain.StatusEntryHit, 5),
		makePosition(3, "BBRI", domain.StatusEntryHit, 2),
	}}
	market := newMarket(quote("BBCA", 945))
	market.errs["BBRI"] = errors.New("timeout")

	res, err := newTestUpdater(store, market).Update(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Checked)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "BBRI", res.Errors[0].Ticker)
	assert.Zero(t, res.Errors[0].PositionID)
	assert.Contains(t, res.Prices, "BBCA")
	assert.NotContains(t, res.Prices, "BBRI")
	assert.NotContains(t, res.Quotes, "BBRI")
}

func TestUpdater_MissingAndInvalidQuotes(t *testing.T) {
	store := &mockStore{positions: []domain.Position{
		makePosition(1, "AAAA", domain.StatusEntryHit, 5),
		makePosition(2, "BBBB", domain.StatusEntryHit, 5),
	}}
	market := newMarket(quote("BBBB", 0))

	res, err := newTestUpdater(store, market).Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Checked)
	assert.Len(t, res.Errors, 2)
}

func TestUpdater_PersistenceFailureIsSurfaced(t *testing.T) {
	store := &mockStore{
		positions: []domain.Position{
			makePosition(1, "BBCA", domain.StatusEntryHit, 5),
			makePosition(2, "BMRI", domain.StatusEntryHit, 5),
		},
		updateErr: map[int64]error{1: errors.New("disk full")},
	}
	market := newMarket(quote("BBCA", 945), quote("BMRI", 1105))

	res, err := newTestUpdater(store, market).Update(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, int64(2), res.Transitions[0].PositionID)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, int64(1), res.Errors[0].PositionID)
	assert.ErrorContains(t, res.Errors[0], "disk full")
}

func TestUpdater_ListError(t *testing.T) {
	store := &mockStore{listErr: errors.New("db down")}
	_, err := newTestUpdater(store, newMarket()).Update(context.Background())
	assert.Error(t, err)
}

func TestUpdater_DedupAndBatches(t *testing.T) {
	var positions []domain.Position
	var quotes []domain.Quote
	for i := 0; i < 12; i++ {
		ticker := fmt.Sprintf("T%02d", i)
		positions = append(positions,
			makePosition(int64(i*2+1), ticker, domain.StatusEntryHit, 1),
			makePosition(int64(i*2+2), ticker, domain.StatusEntryHit, 2),
		)
		quotes = append(quotes, quote(ticker, 1000))
	}
	store := &mockStore{positions: positions}
	market := newMarket(quotes...)

	res, err := newTestUpdater(store, market).Update(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 24, res.Checked)
	assert.Len(t, res.Prices, 12)

	batches := market.Batches()
	require.Len(t, batches, 3, "12 tickers únicos en batches de 5")
	assert.Len(t, batches[0], 5)
	assert.Len(t, batches[2], 2)
}

func TestUpdater_TrackedView(t *testing.T) {
	store := &mockStore{positions: []domain.Position{makePosition(1, "BBCA", domain.StatusEntryHit, 5)}}
	market := newMarket(quote("BBCA", 1050))

	res, err := newTestUpdater(store, market).Update(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Tracked, 1)
	tp := res.Tracked[0]
	assert.Equal(t, 5, tp.DaysActive)
	assert.InDelta(t, 1050, tp.CurrentPrice, 1e-9)
	require.NotNil(t, tp.UnrealizedPnLPct)
	assert.InDelta(t, 5.0, *tp.UnrealizedPnLPct, 1e-9)
	assert.InDelta(t, 2.0, tp.RiskReward, 1e-9)
}
