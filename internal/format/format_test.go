package format

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMoney(t *testing.T) {
	require.Equal(t, "$1,234.50", Money(1234.5, "usd", "en"))
	require.Equal(t, "-$3.00", Money(-3, "USD", "en"))
	require.Equal(t, "¥1,234", Money(1234, "JPY", "en"))

	sv := Money(1234.5, "SEK", "sv")
	require.True(t, strings.Contains(sv, "234,50"), sv)
	require.False(t, strings.HasPrefix(sv, "SEK"), sv)

	require.Equal(t, "12.00 XYZ1", Money(12, "XYZ1", "en"))
	require.Equal(t, "12.00", Money(12, "", "en"))
}

func TestDate(t *testing.T) {
	d := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "Mar 9, 2026", Date(d, "en"))
	require.Equal(t, "2026-03-09", Date(d, "sv"))
	require.Empty(t, Date(time.Time{}, "en"))
}

func TestNumber(t *testing.T) {
	require.Equal(t, "12,345", Number(12345, "en"))
}
