package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectWidthPicksSmallestCoveringWidth(t *testing.T) {
	widths := []int64{60, 100, 150, 320}

	selection, err := SelectWidth(widths, 90, 5)
	require.NoError(t, err)
	require.Equal(t, int64(100), selection.Width)
	require.True(t, selection.MarginMet)
}

func TestSelectWidthExactFitCountsAsMet(t *testing.T) {
	widths := []int64{100, 150}

	selection, err := SelectWidth(widths, 95, 5)
	require.NoError(t, err)
	require.Equal(t, int64(100), selection.Width)
	require.True(t, selection.MarginMet)
}

func TestSelectWidthFallsBackToWidest(t *testing.T) {
	widths := []int64{60, 100, 150}

	selection, err := SelectWidth(widths, 150, 5)
	require.NoError(t, err)
	require.Equal(t, int64(150), selection.Width)
	require.False(t, selection.MarginMet)
}

func TestSelectWidthNoStockConfigured(t *testing.T) {
	_, err := SelectWidth(nil, 90, 5)
	require.ErrorIs(t, err, ErrNoStockConfigured)
}

func TestSelectWidthZeroMargin(t *testing.T) {
	widths := []int64{100}

	selection, err := SelectWidth(widths, 100, 0)
	require.NoError(t, err)
	require.Equal(t, int64(100), selection.Width)
	require.True(t, selection.MarginMet)
}
