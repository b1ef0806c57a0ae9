package stagnation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTripsOnSameTaskFailures(t *testing.T) {
	b := NewBreaker(Config{SameTaskFailures: 3, CrossTaskFailures: 100, NoProgressIterations: 100})
	for i := 0; i < 3; i++ {
		b.Record(Outcome{TaskID: "proj-a-3", Success: false, ErrorCategory: "internal"})
	}
	require.Equal(t, TripSameTask, b.Check())
}

func TestDoesNotTripAcrossDifferentTasks(t *testing.T) {
	b := NewBreaker(Config{SameTaskFailures: 3, CrossTaskFailures: 100, NoProgressIterations: 100})
	b.Record(Outcome{TaskID: "proj-a-1", Success: false})
	b.Record(Outcome{TaskID: "proj-a-2", Success: false})
	b.Record(Outcome{TaskID: "proj-a-3", Success: false})
	require.Equal(t, NoTrip, b.Check())
}

func TestTripsOnCrossTaskNonRetryable(t *testing.T) {
	b := NewBreaker(Config{SameTaskFailures: 100, CrossTaskFailures: 2, NoProgressIterations: 100})
	b.Record(Outcome{TaskID: "proj-a-1", Success: false, ErrorCategory: "auth"})
	b.Record(Outcome{TaskID: "proj-a-2", Success: false, ErrorCategory: "auth"})
	require.Equal(t, TripCrossTask, b.Check())
}

func TestTripsOnNoProgress(t *testing.T) {
	b := NewBreaker(Config{SameTaskFailures: 100, CrossTaskFailures: 100, NoProgressIterations: 2})
	b.Record(Outcome{TaskID: "proj-a-1", Success: true, Closed: false})
	b.Record(Outcome{TaskID: "proj-a-2", Success: true, Closed: false})
	require.Equal(t, TripNoProgress, b.Check())
}

func TestResetsOnSuccessfulClose(t *testing.T) {
	b := NewBreaker(Config{SameTaskFailures: 100, CrossTaskFailures: 100, NoProgressIterations: 2})
	b.Record(Outcome{TaskID: "proj-a-1", Success: true, Closed: false})
	b.Record(Outcome{TaskID: "proj-a-2", Success: true, Closed: true})
	require.Equal(t, NoTrip, b.Check())
}
