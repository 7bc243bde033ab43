package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// histogramSample reads a histogram's current sample count and sum.
func histogramSample(t *testing.T, o prometheus.Observer) (uint64, float64) {
	t.Helper()
	m, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not expose its samples", o)
	}
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return pb.GetHistogram().GetSampleCount(), pb.GetHistogram().GetSampleSum()
}

// TestNewTimer tests timer creation
func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}

	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}

	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

// TestTimerDuration tests duration measurement
func TestTimerDuration(t *testing.T) {
	timer := NewTimer()

	sleepDuration := 100 * time.Millisecond
	time.Sleep(sleepDuration)

	duration := timer.Duration()

	if duration < sleepDuration {
		t.Errorf("Timer.Duration() = %v, want >= %v", duration, sleepDuration)
	}

	if duration > 2*sleepDuration {
		t.Errorf("Timer.Duration() = %v, want < %v", duration, 2*sleepDuration)
	}
}

// TestTimerObserveDuration exercises ObserveDuration against
// JobPlacementDuration, the histogram the scheduler times each placement
// attempt with, and checks the sample landed in the real Prometheus
// histogram rather than just reading Timer.Duration() back.
func TestTimerObserveDuration(t *testing.T) {
	before, _ := histogramSample(t, JobPlacementDuration)

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(JobPlacementDuration)

	after, _ := histogramSample(t, JobPlacementDuration)
	if after != before+1 {
		t.Errorf("JobPlacementDuration sample count = %d, want %d", after, before+1)
	}
}

// TestTimerObserveDurationVec exercises ObserveDurationVec against
// TransportExecDuration, the per-host vec the scheduler times its remote
// transport calls with.
func TestTimerObserveDurationVec(t *testing.T) {
	_, before := histogramSample(t, TransportExecDuration.WithLabelValues("worker9"))

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(TransportExecDuration, "worker9")

	_, after := histogramSample(t, TransportExecDuration.WithLabelValues("worker9"))
	if after <= before {
		t.Errorf("TransportExecDuration{host=worker9} sum did not increase: before=%v after=%v", before, after)
	}
}

// TestTimerMultipleCalls tests that Duration can be called multiple times
func TestTimerMultipleCalls(t *testing.T) {
	timer := NewTimer()

	time.Sleep(50 * time.Millisecond)
	duration1 := timer.Duration()

	time.Sleep(50 * time.Millisecond)
	duration2 := timer.Duration()

	if duration2 <= duration1 {
		t.Errorf("Second Duration() call should be longer: first=%v, second=%v", duration1, duration2)
	}

	if duration1 == 0 || duration2 == 0 {
		t.Error("Duration() should return non-zero values")
	}
}

// TestTimerZeroDuration tests timer with minimal duration
func TestTimerZeroDuration(t *testing.T) {
	timer := NewTimer()

	duration := timer.Duration()

	if duration < 0 {
		t.Errorf("Timer.Duration() = %v, want >= 0", duration)
	}

	if duration > time.Millisecond {
		t.Errorf("Timer.Duration() = %v, want < 1ms for immediate call", duration)
	}
}

// TestMultipleTimers tests that multiple timers work independently
func TestMultipleTimers(t *testing.T) {
	timer1 := NewTimer()
	time.Sleep(50 * time.Millisecond)

	timer2 := NewTimer()
	time.Sleep(50 * time.Millisecond)

	duration1 := timer1.Duration()
	duration2 := timer2.Duration()

	if duration1 <= duration2 {
		t.Errorf("timer1 should be running longer: timer1=%v, timer2=%v", duration1, duration2)
	}

	if duration1 == 0 || duration2 == 0 {
		t.Error("Both timers should have non-zero durations")
	}
}

// TestTimerConsistency tests that Duration returns consistent increasing values
func TestTimerConsistency(t *testing.T) {
	timer := NewTimer()

	var lastDuration time.Duration
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		duration := timer.Duration()

		if duration <= lastDuration {
			t.Errorf("Duration should be monotonically increasing: iteration %d, last=%v, current=%v", i, lastDuration, duration)
		}

		lastDuration = duration
	}
}
