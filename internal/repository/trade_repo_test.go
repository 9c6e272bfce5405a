package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func trade(dir domain.Direction, who common.Address, at time.Time) domain.Trade {
	return domain.Trade{
		ID:           uuid.New(),
		Direction:    dir,
		Counterparty: who,
		Shares:       decimal.NewFromInt(1),
		Payment:      decimal.NewFromInt(100),
		PriceAfter:   decimal.NewFromInt(100),
		ExecutedAt:   at,
	}
}

func TestMemoryTradeLog_ListNewestFirstWithFilter(t *testing.T) {
	log := repository.NewMemoryTradeLog(0)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, log.Record(ctx, []domain.Trade{
		trade(domain.DirectionBuy, alice, t0),
		trade(domain.DirectionSell, bob, t0.Add(time.Minute)),
		trade(domain.DirectionBuy, bob, t0.Add(2*time.Minute)),
	}))

	all, total, err := log.List(ctx, repository.TradeFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.True(t, all[0].ExecutedAt.After(all[1].ExecutedAt))

	bobs, total, err := log.List(ctx, repository.TradeFilter{Counterparty: bob})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, bobs, 2)

	buys, _, err := log.List(ctx, repository.TradeFilter{Direction: domain.DirectionBuy, Limit: 1})
	require.NoError(t, err)
	require.Len(t, buys, 1)
	assert.Equal(t, bob, buys[0].Counterparty)

	empty, total, err := log.List(ctx, repository.TradeFilter{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, empty)
}

func TestMemoryTradeLog_EvictsOldest(t *testing.T) {
	log := repository.NewMemoryTradeLog(2)
	ctx := context.Background()
	t0 := time.Now().UTC()

	first := trade(domain.DirectionBuy, alice, t0)
	require.NoError(t, log.Record(ctx, []domain.Trade{first}))
	require.NoError(t, log.Record(ctx, []domain.Trade{
		trade(domain.DirectionBuy, bob, t0.Add(time.Second)),
		trade(domain.DirectionSell, bob, t0.Add(2*time.Second)),
	}))

	all, total, err := log.List(ctx, repository.TradeFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, tr := range all {
		assert.NotEqual(t, first.ID, tr.ID)
	}
}
