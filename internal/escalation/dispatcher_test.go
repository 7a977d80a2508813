package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]bool
}

func (n *recordingNotifier) Notify(_ context.Context, target Target, _ Request) error {
	n.mu.Lock()
	n.calls = append(n.calls, target.Name)
	n.mu.Unlock()
	if n.failFor[target.Name] {
		return errors.New("send failed")
	}
	return nil
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func TestDispatcherNotifiesAllSubscribedTargets(t *testing.T) {
	notifier := &recordingNotifier{}
	targets := []Target{
		{Name: "oncall", Channel: ChannelLog, Levels: []Level{LevelHigh, LevelCritical}},
		{Name: "clinical-team", Channel: ChannelLog, Levels: []Level{LevelCritical}},
		{Name: "ops", Channel: ChannelLog}, // all levels
	}
	d := NewDispatcher(targets, map[Channel]Notifier{ChannelLog: notifier}, nil, nil, nil)

	err := d.Trigger(context.Background(), Request{Level: LevelCritical, Reason: "confirmed danger"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"oncall", "clinical-team", "ops"}, notifier.names())
}

func TestDispatcherLevelFiltering(t *testing.T) {
	notifier := &recordingNotifier{}
	targets := []Target{
		{Name: "oncall", Channel: ChannelLog, Levels: []Level{LevelCritical}},
		{Name: "ops", Channel: ChannelLog, Levels: []Level{LevelInfo, LevelLow}},
	}
	d := NewDispatcher(targets, map[Channel]Notifier{ChannelLog: notifier}, nil, nil, nil)

	require.NoError(t, d.Trigger(context.Background(), Request{Level: LevelLow, Reason: "check-in"}))
	assert.Equal(t, []string{"ops"}, notifier.names())
}

func TestDispatcherFailureDoesNotStopOthers(t *testing.T) {
	notifier := &recordingNotifier{failFor: map[string]bool{"broken": true}}
	targets := []Target{
		{Name: "broken", Channel: ChannelLog},
		{Name: "working-1", Channel: ChannelLog},
		{Name: "working-2", Channel: ChannelLog},
	}
	d := NewDispatcher(targets, map[Channel]Notifier{ChannelLog: notifier}, nil, nil, nil, WithParallelism(1))

	err := d.Trigger(context.Background(), Request{Level: LevelHigh, Reason: "risk detected"})
	require.NoError(t, err, "delivery failures must not fail the call")
	assert.Len(t, notifier.names(), 3, "every target must be attempted")
}

func TestDispatcherNoTargetsIsNoOp(t *testing.T) {
	d := NewDispatcher(nil, map[Channel]Notifier{}, nil, nil, nil)
	assert.NoError(t, d.Trigger(context.Background(), Request{Level: LevelHigh, Reason: "r"}))
}

func TestDispatcherInvalidLevel(t *testing.T) {
	d := NewDispatcher(nil, map[Channel]Notifier{}, nil, nil, nil)
	assert.Error(t, d.Trigger(context.Background(), Request{Level: Level("bogus")}))
}

func TestDispatcherDropsTargetsWithoutNotifier(t *testing.T) {
	notifier := &recordingNotifier{}
	targets := []Target{
		{Name: "mail", Channel: ChannelEmail},
		{Name: "ops", Channel: ChannelLog},
	}
	d := NewDispatcher(targets, map[Channel]Notifier{ChannelLog: notifier}, nil, nil, nil)

	require.NoError(t, d.Trigger(context.Background(), Request{Level: LevelMedium, Reason: "r"}))
	assert.Equal(t, []string{"ops"}, notifier.names())
}

func TestTargetAccepts(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		level  Level
		want   bool
	}{
		{"empty levels accept all", Target{}, LevelInfo, true},
		{"listed level", Target{Levels: []Level{LevelHigh}}, LevelHigh, true},
		{"unlisted level", Target{Levels: []Level{LevelHigh}}, LevelLow, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.target.Accepts(tt.level))
		})
	}
}

func TestParseTargets(t *testing.T) {
	raw := `[{"name":"oncall","channel":"email","address":"oncall@example.org","levels":["high","critical"]}]`
	targets, err := ParseTargets(raw)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "oncall", targets[0].Name)
	assert.Equal(t, ChannelEmail, targets[0].Channel)
	assert.Equal(t, []Level{LevelHigh, LevelCritical}, targets[0].Levels)
}

func TestParseTargetsRejectsInvalid(t *testing.T) {
	_, err := ParseTargets(`[{"name":"x","channel":"log","levels":["bogus"]}]`)
	assert.Error(t, err)

	_, err = ParseTargets(`[{"channel":"log"}]`)
	assert.Error(t, err)

	targets, err := ParseTargets("")
	assert.NoError(t, err)
	assert.Nil(t, targets)
}
