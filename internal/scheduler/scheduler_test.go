package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"marketplace/internal/clock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitRun(t *testing.T, runs <-chan time.Time) time.Time {
	t.Helper()
	select {
	case at := <-runs:
		return at
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
		return time.Time{}
	}
}

func TestSchedulerRunsOnStartAndEveryInterval(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.Fake(start)
	runs := make(chan time.Time, 10)

	s := New(clk, discardLogger(), Task{
		Name:     "sweep",
		Interval: time.Hour,
		Run: func(ctx context.Context) (int64, error) {
			runs <- clk.Now()
			return 1, nil
		},
	})
	s.Start(context.Background())
	defer s.Stop()

	if got := waitRun(t, runs); !got.Equal(start) {
		t.Fatalf("first run at %v, want %v", got, start)
	}

	clk.WaitForTickers(1)
	clk.Advance(time.Hour)
	if got, want := waitRun(t, runs), start.Add(time.Hour); !got.Equal(want) {
		t.Fatalf("second run at %v, want %v", got, want)
	}

	clk.Advance(30 * time.Minute)
	select {
	case at := <-runs:
		t.Fatalf("unexpected run at %v before the interval elapsed", at)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerStopHaltsTasks(t *testing.T) {
	clk := clock.Fake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	runs := make(chan time.Time, 10)

	s := New(clk, discardLogger(), Task{
		Name:     "sweep",
		Interval: time.Minute,
		Run: func(ctx context.Context) (int64, error) {
			runs <- clk.Now()
			return 0, nil
		},
	})
	s.Start(context.Background())
	waitRun(t, runs)
	clk.WaitForTickers(1)

	s.Stop()
	s.Stop()

	clk.Advance(time.Hour)
	select {
	case at := <-runs:
		t.Fatalf("task ran at %v after Stop", at)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunOnce(t *testing.T) {
	boom := errors.New("boom")
	s := New(clock.Fake(time.Now()), discardLogger(),
		Task{Name: "ok", Interval: time.Hour, Run: func(context.Context) (int64, error) { return 3, nil }},
		Task{Name: "fails", Interval: time.Hour, Run: func(context.Context) (int64, error) { return 0, boom }},
	)

	n, err := s.RunOnce(context.Background(), "ok")
	if err != nil || n != 3 {
		t.Fatalf("RunOnce(ok) = %d, %v, want 3, nil", n, err)
	}
	if _, err := s.RunOnce(context.Background(), "fails"); !errors.Is(err, boom) {
		t.Fatalf("RunOnce(fails) error = %v, want boom", err)
	}
	if _, err := s.RunOnce(context.Background(), "missing"); err == nil {
		t.Fatal("RunOnce(missing) error = nil, want error")
	}
}
