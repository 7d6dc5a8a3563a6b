package enums

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	assert.True(t, OrderStatusPending.CanTransitionTo(OrderStatusConfirmed))
	assert.True(t, OrderStatusPending.CanTransitionTo(OrderStatusCancelled))
	assert.False(t, OrderStatusPending.CanTransitionTo(OrderStatusShipped))
	assert.True(t, OrderStatusShipped.CanTransitionTo(OrderStatusDelivered))
	assert.False(t, OrderStatusShipped.CanTransitionTo(OrderStatusCancelled))
	assert.True(t, OrderStatusDelivered.CanTransitionTo(OrderStatusRefunded))

	for _, status := range validOrderStatuses {
		assert.False(t, OrderStatusCancelled.CanTransitionTo(status), status)
		assert.False(t, OrderStatusRefunded.CanTransitionTo(status), status)
	}
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.False(t, OrderStatusDelivered.IsTerminal())
}

func TestOrderStatusOrdering(t *testing.T) {
	assert.True(t, OrderStatusShipped.AtLeast(OrderStatusConfirmed))
	assert.False(t, OrderStatusPending.AtLeast(OrderStatusConfirmed))
	assert.False(t, OrderStatusCancelled.AtLeast(OrderStatusPending))
	assert.True(t, OrderStatusShipped.RequiresPayment())
	assert.False(t, OrderStatusProcessing.RequiresPayment())
}

func TestParseStatuses(t *testing.T) {
	status, err := ParseOrderStatus("SHIPPED")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, status)

	_, err = ParseOrderStatus("shipped")
	assert.Error(t, err)

	payment, err := ParsePaymentStatus("FAILED")
	require.NoError(t, err)
	assert.True(t, payment.CanTransitionTo(PaymentStatusPending))
	assert.False(t, PaymentStatusRefunded.CanTransitionTo(PaymentStatusPaid))
}

func TestAnalyticsPeriodWindow(t *testing.T) {
	// Thursday
	ts := time.Date(2024, time.March, 14, 17, 30, 0, 0, time.UTC)

	start, end := AnalyticsPeriodDaily.Window(ts)
	assert.Equal(t, time.Date(2024, time.March, 14, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC), end)

	start, end = AnalyticsPeriodWeekly.Window(ts)
	assert.Equal(t, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, time.March, 18, 0, 0, 0, 0, time.UTC), end)

	start, end = AnalyticsPeriodMonthly.Window(ts)
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC), end)

	period, err := ParseAnalyticsPeriod(" weekly ")
	require.NoError(t, err)
	assert.Equal(t, AnalyticsPeriodWeekly, period)
}
