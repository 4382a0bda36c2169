package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusScheduled, StatusConfirmed, true},
		{StatusScheduled, StatusCompleted, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusNoShow, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusScheduled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusNoShow, StatusConfirmed, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusClassification(t *testing.T) {
	require.True(t, StatusScheduled.IsActive())
	require.True(t, StatusConfirmed.IsActive())
	require.False(t, StatusCompleted.IsActive())
	require.False(t, StatusCancelled.IsActive())
	require.False(t, StatusNoShow.IsActive())

	require.True(t, StatusCompleted.IsTerminal())
	require.True(t, StatusCancelled.IsTerminal())
	require.True(t, StatusNoShow.IsTerminal())
	require.False(t, StatusScheduled.IsTerminal())
	require.False(t, StatusConfirmed.IsTerminal())
}

func TestValidStatus(t *testing.T) {
	require.True(t, ValidStatus("scheduled"))
	require.True(t, ValidStatus("no-show"))
	require.False(t, ValidStatus("noshow"))
	require.False(t, ValidStatus(""))
	require.False(t, ValidStatus("Scheduled"))
}

func TestNormalizeDate(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	in := time.Date(2026, 9, 14, 18, 45, 12, 999, ist)

	got := NormalizeDate(in)
	require.Equal(t, time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC), got)
	require.Equal(t, got, NormalizeDate(got))
}

func TestActuallyAvailable(t *testing.T) {
	rec := SlotRecord{IsAvailable: true, MaxAppointments: 2, CurrentAppointments: 1}
	require.True(t, rec.ActuallyAvailable())

	rec.CurrentAppointments = 2
	require.False(t, rec.ActuallyAvailable())

	rec = SlotRecord{IsAvailable: false, MaxAppointments: 2, CurrentAppointments: 0}
	require.False(t, rec.ActuallyAvailable(), "manual override wins over spare capacity")
}
