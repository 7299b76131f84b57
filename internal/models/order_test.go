package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{StatusCreated, StatusDebited, true},
		{StatusCreated, StatusFailed, true},
		{StatusCreated, StatusSubmitted, false},
		{StatusDebited, StatusSubmitted, true},
		{StatusDebited, StatusCompleted, true},
		{StatusSubmitted, StatusCancelled, true},
		{StatusSubmitted, StatusDebited, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCancelled, StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusCreated.IsTerminal())
	assert.False(t, StatusDebited.IsTerminal())
	assert.False(t, StatusSubmitted.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestSourcesOf(t *testing.T) {
	assert.ElementsMatch(t, []OrderStatus{StatusCreated, StatusDebited, StatusSubmitted}, SourcesOf(StatusFailed))
	assert.ElementsMatch(t, []OrderStatus{StatusDebited, StatusSubmitted}, SourcesOf(StatusCompleted))
	assert.ElementsMatch(t, []OrderStatus{StatusCreated}, SourcesOf(StatusDebited))
	assert.Empty(t, SourcesOf(StatusCreated))
}

func TestParams_ValueScan(t *testing.T) {
	p := Params{"meter": "04123456789", "disco": "ikeja-electric"}

	v, err := p.Value()
	require.NoError(t, err)

	var got Params
	require.NoError(t, got.Scan(v))
	assert.Equal(t, p, got)

	require.NoError(t, got.Scan(`{"phone":"08030000000"}`))
	assert.Equal(t, Params{"phone": "08030000000"}, got)

	require.NoError(t, got.Scan(nil))
	assert.Empty(t, got)

	assert.Error(t, got.Scan(42))
}

func TestProviderStatus_OrderStatus(t *testing.T) {
	s, ok := ProviderSuccess.OrderStatus()
	assert.True(t, ok)
	assert.Equal(t, StatusCompleted, s)

	s, ok = ProviderCancelled.OrderStatus()
	assert.True(t, ok)
	assert.Equal(t, StatusCancelled, s)

	_, ok = ProviderPending.OrderStatus()
	assert.False(t, ok)
}

func TestStatusMap_Lookup(t *testing.T) {
	m := StatusMap{"SUCCESSFUL": ProviderSuccess, "REFUNDED": ProviderCancelled}
	assert.Equal(t, ProviderSuccess, m.Lookup("SUCCESSFUL"))
	assert.Equal(t, ProviderCancelled, m.Lookup("REFUNDED"))
	assert.Equal(t, ProviderPending, m.Lookup("QUEUED"))
}
