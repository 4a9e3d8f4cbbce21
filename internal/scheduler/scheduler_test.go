package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalNext(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		every time.Duration
		want  time.Time
	}{
		{"hourly", time.Hour, base.Add(time.Hour)},
		{"zero stops", 0, time.Time{}},
		{"negative stops", -time.Minute, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Every(tt.every).Next(base))
		})
	}
}

type fakeStarter struct {
	mu   sync.Mutex
	reqs []service.Request
	err  error
}

func (f *fakeStarter) Start(_ context.Context, req service.Request) (service.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return service.RunResult{RunID: "r"}, f.err
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func TestSchedulerTicks(t *testing.T) {
	starter := &fakeStarter{}
	s := New(Every(10*time.Millisecond), starter, "DEMO", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return starter.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	starter.mu.Lock()
	defer starter.mu.Unlock()
	assert.Equal(t, "DEMO", starter.reqs[0].ProjectKey)
	assert.Equal(t, "schedule", starter.reqs[0].Trigger)
}

func TestSchedulerRunOnStartAndBusy(t *testing.T) {
	starter := &fakeStarter{err: service.ErrAlreadyRunning}
	s := New(Every(0), starter, "DEMO", slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.RunOnStart = true

	s.Run(context.Background())
	assert.Equal(t, 1, starter.count(), "a zero interval fires once on start and stops")
}
