package ingest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartograph-io/cartograph/models"
)

type stubStates struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *stubStates) Dispatch(_ string, event models.Event) (models.ComponentRuntimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return models.ComponentRuntimeState{}, nil
}

type stubAcks struct {
	reports []models.AckReport
}

func (s *stubAcks) HandleAck(report models.AckReport) error {
	s.reports = append(s.reports, report)
	return nil
}

func checkReport(seq uint64) models.CheckReport {
	return models.CheckReport{
		AgentID:     "agent-1",
		Sequence:    seq,
		ComponentID: "c1",
		CheckName:   "http",
		Severity:    models.SeverityOK,
		Timestamp:   time.Now(),
	}
}

func TestFeedRoutesCheckReports(t *testing.T) {
	states := &stubStates{}
	feed := NewFeed(states, &stubAcks{}, nil)

	_, err := feed.HandleCheckReport(checkReport(1))
	require.NoError(t, err)

	require.Len(t, states.events, 1)
	ev, ok := states.events[0].(models.CheckResultEvent)
	require.True(t, ok)
	assert.Equal(t, "http", ev.CheckName)
	assert.Equal(t, models.SeverityOK, ev.Severity)

	ts, ok := feed.LastReport("c1")
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), ts, time.Second)
}

func TestFeedDropsReplayedSequences(t *testing.T) {
	states := &stubStates{}
	feed := NewFeed(states, &stubAcks{}, nil)

	_, err := feed.HandleCheckReport(checkReport(5))
	require.NoError(t, err)

	// Redelivery of an already-seen sequence is dropped.
	_, err = feed.HandleCheckReport(checkReport(5))
	assert.ErrorIs(t, err, ErrDuplicateReport)
	_, err = feed.HandleCheckReport(checkReport(3))
	assert.ErrorIs(t, err, ErrDuplicateReport)
	assert.Len(t, states.events, 1)

	// The next sequence goes through.
	_, err = feed.HandleCheckReport(checkReport(6))
	require.NoError(t, err)
	assert.Len(t, states.events, 2)
}

func TestFeedDeduplicatesPerAgent(t *testing.T) {
	states := &stubStates{}
	feed := NewFeed(states, &stubAcks{}, nil)

	_, err := feed.HandleCheckReport(checkReport(5))
	require.NoError(t, err)

	// Another agent has its own sequence space.
	other := checkReport(5)
	other.AgentID = "agent-2"
	_, err = feed.HandleCheckReport(other)
	require.NoError(t, err)
	assert.Len(t, states.events, 2)
}

func TestFeedZeroSequenceSkipsDedup(t *testing.T) {
	states := &stubStates{}
	feed := NewFeed(states, &stubAcks{}, nil)

	for i := 0; i < 3; i++ {
		_, err := feed.HandleCheckReport(checkReport(0))
		require.NoError(t, err)
	}
	assert.Len(t, states.events, 3)
}

func TestFeedRoutesAcks(t *testing.T) {
	acks := &stubAcks{}
	feed := NewFeed(&stubStates{}, acks, nil)

	err := feed.HandleAckReport(models.AckReport{AgentID: "agent-1", Sequence: 1, CommandID: "cmd:x", Success: true})
	require.NoError(t, err)
	require.Len(t, acks.reports, 1)
	assert.Equal(t, "cmd:x", acks.reports[0].CommandID)

	// Acks share the agent's sequence space with check reports.
	_, err = feed.HandleCheckReport(checkReport(1))
	assert.ErrorIs(t, err, ErrDuplicateReport)
}

func TestTrackSeedsStalenessClock(t *testing.T) {
	feed := NewFeed(&stubStates{}, &stubAcks{}, nil)

	// A registered component with a silent agent still ages into the sweep.
	feed.Track("c1")
	assert.Empty(t, feed.Quiet(time.Now(), 90*time.Second))
	assert.Equal(t, []string{"c1"}, feed.Quiet(time.Now().Add(2*time.Minute), 90*time.Second))
}

func TestTrackKeepsExistingReportTime(t *testing.T) {
	feed := NewFeed(&stubStates{}, &stubAcks{}, nil)

	old := checkReport(1)
	old.Timestamp = time.Now().Add(-5 * time.Minute)
	_, err := feed.HandleCheckReport(old)
	require.NoError(t, err)

	// Tracking afterwards must not reset the clock of a component that has
	// already reported.
	feed.Track("c1")
	assert.Equal(t, []string{"c1"}, feed.Quiet(time.Now(), 90*time.Second))
}

func TestFeedQuietComponents(t *testing.T) {
	feed := NewFeed(&stubStates{}, &stubAcks{}, nil)

	old := checkReport(1)
	old.Timestamp = time.Now().Add(-5 * time.Minute)
	_, err := feed.HandleCheckReport(old)
	require.NoError(t, err)

	fresh := checkReport(2)
	fresh.ComponentID = "c2"
	_, err = feed.HandleCheckReport(fresh)
	require.NoError(t, err)

	quiet := feed.Quiet(time.Now(), 90*time.Second)
	assert.Equal(t, []string{"c1"}, quiet)

	feed.Forget("c1")
	assert.Empty(t, feed.Quiet(time.Now(), 90*time.Second))
}
