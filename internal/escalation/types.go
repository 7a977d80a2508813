package escalation

// Level is the severity of an escalation request. Targets subscribe to
// the levels they want to be notified for.
type Level string

const (
	LevelInfo     Level = "info"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

var levelRank = map[Level]int{
	LevelInfo:     0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// Rank returns the level's ordinal; unknown levels rank lowest.
func (l Level) Rank() int {
	return levelRank[l]
}

// IsValid reports whether l is a known level.
func (l Level) IsValid() bool {
	_, ok := levelRank[l]
	return ok
}

// ParseLevel maps a string onto a Level, defaulting to medium.
func ParseLevel(s string) Level {
	l := Level(s)
	if l.IsValid() {
		return l
	}
	return LevelMedium
}

// Channel identifies a notification transport.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelWebhook Channel = "webhook"
	ChannelLog     Channel = "log"
)

// Request is one escalation. Content is assembled strictly from these
// fields; dispatch adds no further protected content.
type Request struct {
	Level        Level  `json:"level"`
	Reason       string `json:"reason"`
	UserID       string `json:"user_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	AssessmentID string `json:"assessment_id,omitempty"`
	InstanceID   string `json:"instance_id,omitempty"`
	ProtocolID   string `json:"protocol_id,omitempty"`
}

// Target is one configured notification recipient. Levels is the set of
// request levels that reach it; empty means every level.
type Target struct {
	Name    string  `json:"name"`
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
	Levels  []Level `json:"levels,omitempty"`
}

// Accepts reports whether the target subscribes to the given level.
func (t Target) Accepts(level Level) bool {
	if len(t.Levels) == 0 {
		return true
	}
	for _, l := range t.Levels {
		if l == level {
			return true
		}
	}
	return false
}
