package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuyOrderTransitions(t *testing.T) {
	order := &CryptoOrder{OrderID: "ORD-1", Side: SideBuy, Status: StatusPending}

	require.NoError(t, order.MarkProcessing("TX-1"))
	assert.Equal(t, StatusProcessing, order.Status)
	assert.Equal(t, "TX-1", order.TransactionID)

	// PROCESSING 不允许再次扣款或取消
	require.ErrorIs(t, order.MarkProcessing("TX-2"), ErrInvalidState)
	require.ErrorIs(t, order.Cancel("late"), ErrInvalidState)

	require.NoError(t, order.Complete())
	assert.Equal(t, StatusCompleted, order.Status)

	// 终态不可再迁移
	require.ErrorIs(t, order.Fail("too late"), ErrInvalidState)
	require.ErrorIs(t, order.Complete(), ErrInvalidState)
}

func TestSellOrderTransitions(t *testing.T) {
	order := &CryptoOrder{OrderID: "ORD-2", Side: SideSell, Status: StatusPending}

	require.NoError(t, order.MarkAwaitingCrypto("pay-1", "addr"))
	assert.Equal(t, StatusAwaitingCrypto, order.Status)
	assert.Equal(t, "pay-1", order.PaymentID)

	// 等待入金的卖单允许取消（过期路径）
	cp := *order
	require.NoError(t, cp.Cancel("deposit window expired"))
	assert.Equal(t, StatusCancelled, cp.Status)
	require.ErrorIs(t, cp.Complete(), ErrInvalidState)

	require.NoError(t, order.Complete())
	assert.Equal(t, StatusCompleted, order.Status)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusAwaitingCrypto.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
