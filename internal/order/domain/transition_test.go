package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionAllowedEdges(t *testing.T) {
	allowed := []struct {
		from   Status
		target Status
	}{
		{StatusReceived, StatusPaid},
		{StatusReceived, StatusCancelled},
		{StatusPaid, StatusPrinting},
		{StatusPaid, StatusCancelled},
		{StatusPrinting, StatusCompleted},
		{StatusPrinting, StatusCancelled},
	}
	for _, tc := range allowed {
		require.True(t, CanTransition(tc.from, tc.target), "%s -> %s", tc.from, tc.target)
	}
}

func TestCanTransitionRejectsSkippingStates(t *testing.T) {
	require.False(t, CanTransition(StatusReceived, StatusCompleted))
	require.False(t, CanTransition(StatusReceived, StatusPrinting))
	require.False(t, CanTransition(StatusPaid, StatusCompleted))
}

func TestCompletedAndCancelledAreTerminal(t *testing.T) {
	for _, target := range []Status{StatusReceived, StatusPaid, StatusPrinting, StatusCompleted, StatusCancelled, StatusDelivered} {
		require.False(t, CanTransition(StatusCompleted, target))
		require.False(t, CanTransition(StatusCancelled, target))
	}
}

func TestDeliveredHasNoInboundEdge(t *testing.T) {
	for from := range transitions {
		require.False(t, CanTransition(from, StatusDelivered))
	}
}

func TestDeletable(t *testing.T) {
	require.True(t, Deletable(StatusReceived))
	require.True(t, Deletable(StatusCancelled))
	require.False(t, Deletable(StatusPaid))
	require.False(t, Deletable(StatusPrinting))
	require.False(t, Deletable(StatusCompleted))
}
