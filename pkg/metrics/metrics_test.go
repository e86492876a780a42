package metrics_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tracefang/pkg/metrics"
)

// Counter fixtures reused across cases.
var (
	balanced = metrics.Counts{
		Passed: 2, PassedObserved: 1, PassedNotObserved: 1,
		Failed: 2, FailedObserved: 1, FailedNotObserved: 1,
	}

	allFailingHit = metrics.Counts{
		Passed: 2, PassedObserved: 0, PassedNotObserved: 2,
		Failed: 1, FailedObserved: 1, FailedNotObserved: 0,
	}

	zero = metrics.Counts{}
)

func TestTarantula(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, metrics.Tarantula(allFailingHit), 1e-9)
	assert.InDelta(t, 0.5, metrics.Tarantula(balanced), 1e-9)
}

func TestOchiai(t *testing.T) {
	t.Parallel()

	// ef=1, F=1, ep=0: 1/sqrt(1*1) = 1.
	assert.InDelta(t, 1.0, metrics.Ochiai(allFailingHit), 1e-9)

	// ef=1, F=2, ep=1: 1/sqrt(2*2) = 0.5.
	assert.InDelta(t, 0.5, metrics.Ochiai(balanced), 1e-9)
}

func TestJaccard(t *testing.T) {
	t.Parallel()

	// ef=1, F=2, ep=1: 1/3.
	assert.InDelta(t, 1.0/3.0, metrics.Jaccard(balanced), 1e-9)
}

func TestBinaryAndNaish1(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, metrics.Binary(allFailingHit), 1e-9)
	assert.InDelta(t, 0.0, metrics.Binary(balanced), 1e-9)

	assert.InDelta(t, 2.0, metrics.Naish1(allFailingHit), 1e-9)
	assert.InDelta(t, -1.0, metrics.Naish1(balanced), 1e-9)
}

func TestWong3Piecewise(t *testing.T) {
	t.Parallel()

	low := metrics.Counts{Failed: 5, FailedObserved: 5, Passed: 2, PassedObserved: 2}
	assert.InDelta(t, 3.0, metrics.Wong3(low), 1e-9)

	mid := metrics.Counts{Failed: 5, FailedObserved: 5, Passed: 6, PassedObserved: 6}
	assert.InDelta(t, 5-(2+0.1*4), metrics.Wong3(mid), 1e-9)

	high := metrics.Counts{Failed: 5, FailedObserved: 5, Passed: 20, PassedObserved: 20}
	assert.InDelta(t, 5-(2.8+0.001*10), metrics.Wong3(high), 1e-9)
}

func TestDStarUsesMultiplier(t *testing.T) {
	t.Parallel()

	c := metrics.Counts{
		Failed: 3, FailedObserved: 3, FailedNotObserved: 0,
		Passed: 2, PassedObserved: 1, PassedNotObserved: 1,
	}

	assert.InDelta(t, 6.0, metrics.DStar(c), 1e-9)
}

func TestClamp(t *testing.T) {
	t.Parallel()

	assert.Zero(t, metrics.Clamp(math.NaN()))
	assert.Zero(t, metrics.Clamp(math.Inf(1)))
	assert.Zero(t, metrics.Clamp(math.Inf(-1)))
	assert.InDelta(t, 0.25, metrics.Clamp(0.25), 1e-9)
}

// Every registered metric must survive empty counters: division by zero
// surfaces as NaN or an infinity and clamps to 0.
func TestAllMetricsNeverPanicOnZeroCounts(t *testing.T) {
	t.Parallel()

	for _, name := range metrics.Names() {
		f, err := metrics.Get(name)
		require.NoError(t, err, name)

		require.NotPanics(t, func() {
			value := metrics.Clamp(f(zero))
			assert.False(t, math.IsNaN(value), name)
			assert.False(t, math.IsInf(value, 0), name)
		}, name)
	}
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	_, err := metrics.Get("Ochiai")
	require.NoError(t, err)

	_, unknownErr := metrics.Get("NotAMetric")
	require.ErrorIs(t, unknownErr, metrics.ErrUnknownMetric)

	assert.True(t, metrics.Known("IncreaseTrue"))
	assert.True(t, metrics.Known("Tarantula"))
	assert.False(t, metrics.Known("Bogus"))

	assert.True(t, metrics.IsPredicateMetric("IncreaseFalse"))
	assert.False(t, metrics.IsPredicateMetric("Ochiai"))
}

func TestNamesSortedAndComplete(t *testing.T) {
	t.Parallel()

	names := metrics.Names()
	require.Len(t, names, 44)
	assert.IsType(t, []string{}, names)

	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}
