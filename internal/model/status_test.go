package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusAuthorized, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusPending, StatusDelivered, false},
		{StatusAuthorized, StatusProcessing, true},
		{StatusAuthorized, StatusPending, false},
		{StatusProcessing, StatusShipped, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusFailed, false},
		{StatusProcessing, StatusAuthorized, false},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusShipped, false},
		{StatusCancelled, StatusPending, false},
		{StatusFailed, StatusProcessing, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	all := []OrderStatus{StatusPending, StatusAuthorized, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusFailed}
	for _, from := range []OrderStatus{StatusFailed, StatusDelivered, StatusCancelled} {
		assert.True(t, from.Terminal())
		for _, to := range all {
			assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestReached(t *testing.T) {
	assert.True(t, StatusProcessing.Reached(StatusProcessing))
	assert.True(t, StatusShipped.Reached(StatusProcessing))
	assert.True(t, StatusProcessing.Reached(StatusAuthorized))
	assert.True(t, StatusDelivered.Reached(StatusPending))
	assert.False(t, StatusPending.Reached(StatusProcessing))
	assert.False(t, StatusAuthorized.Reached(StatusProcessing))

	// failed/cancelled 不在履约链上，只等于自身
	assert.False(t, StatusCancelled.Reached(StatusProcessing))
	assert.False(t, StatusShipped.Reached(StatusFailed))
	assert.True(t, StatusFailed.Reached(StatusFailed))
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus("shipped")
	assert.True(t, ok)
	assert.Equal(t, StatusShipped, st)

	_, ok = ParseStatus("refunded")
	assert.False(t, ok)
	_, ok = ParseStatus("")
	assert.False(t, ok)
}
