package directory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHaversineKM(t *testing.T) {
	// Connaught Place, Delhi to Gateway of India, Mumbai.
	got := HaversineKM(28.6315, 77.2167, 18.9220, 72.8347)
	require.InDelta(t, 1137.0, got, 10.0)

	require.Equal(t, 0.0, HaversineKM(12.9716, 77.5946, 12.9716, 77.5946))

	// Symmetry.
	ab := HaversineKM(28.6315, 77.2167, 28.5355, 77.3910)
	ba := HaversineKM(28.5355, 77.3910, 28.6315, 77.2167)
	require.Equal(t, ab, ba)

	// Short hops still resolve at one-decimal precision.
	short := HaversineKM(28.6315, 77.2167, 28.6415, 77.2167)
	require.Greater(t, short, 0.0)
	require.Less(t, short, 2.0)
}
