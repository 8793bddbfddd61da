package view

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdeck/internal/alertfeed"
)

func TestOptimisticThenConfirmed(t *testing.T) {
	s := NewStore()
	s.ApplyOptimisticWatchlist([]string{"AAPL", "TSLA"})
	st := s.Snapshot()
	assert.Equal(t, []string{"AAPL", "TSLA"}, st.Watchlist)
	assert.True(t, st.Pending)

	// the snapshot wins even when it disagrees with the optimistic value
	s.ApplyWatchlist([]string{"AAPL"})
	st = s.Snapshot()
	assert.Equal(t, []string{"AAPL"}, st.Watchlist)
	assert.False(t, st.Pending)
}

func TestObserversSeeEveryChange(t *testing.T) {
	s := NewStore()
	var states []State
	cancel := s.Subscribe(func(st State) { states = append(states, st) })
	defer cancel()

	s.ApplyOptimisticWatchlist([]string{"AAPL"})
	s.ApplyAlerts([]alertfeed.Record{{ID: "a1", Ticker: "AAPL"}})
	s.Reset()

	require.Len(t, states, 3)
	assert.True(t, states[0].Pending)
	assert.Len(t, states[1].Alerts, 1)
	assert.Empty(t, states[2].Watchlist)
	assert.Empty(t, states[2].Alerts)
	assert.False(t, states[2].Pending)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.ApplyWatchlist([]string{"AAPL"})
	st := s.Snapshot()
	st.Watchlist[0] = "XXXX"
	assert.Equal(t, []string{"AAPL"}, s.Snapshot().Watchlist)
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) record(n Notice) {
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
}

func (l *noticeLog) last() Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.notices) == 0 {
		return Notice{}
	}
	return l.notices[len(l.notices)-1]
}

func TestSuccessAutoClears(t *testing.T) {
	var log noticeLog
	n := NewNotifier(log.record)
	n.clearDelay = 10 * time.Millisecond

	n.Success("Added AAPL to watchlist")
	assert.Equal(t, SeveritySuccess, n.Current().Severity)

	require.Eventually(t, func() bool {
		return n.Current() == Notice{}
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, Notice{}, log.last())
}

func TestErrorPersists(t *testing.T) {
	var log noticeLog
	n := NewNotifier(log.record)
	n.clearDelay = 10 * time.Millisecond

	n.Error("could not update the watchlist")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, SeverityError, n.Current().Severity, "errors never auto-clear")

	n.Clear()
	assert.Equal(t, Notice{}, n.Current())
}

func TestReplacementCancelsPendingClear(t *testing.T) {
	var log noticeLog
	n := NewNotifier(log.record)
	n.clearDelay = 20 * time.Millisecond

	n.Success("first")
	n.Error("second")
	time.Sleep(60 * time.Millisecond)
	// the first message's timer must not wipe its replacement
	assert.Equal(t, Notice{Text: "second", Severity: SeverityError}, n.Current())
}

func TestFreshSuccessRearmsTimer(t *testing.T) {
	var log noticeLog
	n := NewNotifier(log.record)
	n.clearDelay = 30 * time.Millisecond

	n.Success("first")
	time.Sleep(15 * time.Millisecond)
	n.Success("second")
	time.Sleep(20 * time.Millisecond)
	// past the first deadline, inside the second's window
	assert.Equal(t, "second", n.Current().Text)

	require.Eventually(t, func() bool {
		return n.Current() == Notice{}
	}, time.Second, 2*time.Millisecond)
}
