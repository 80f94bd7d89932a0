// Package models defines the data structures for subtitle events.
package models

// Event types carried in the eventType field.
const (
	EventSubtitleUpdated = "channel.subtitle.updated"
	EventSubtitleCleared = "channel.subtitle.cleared"
)

// SubtitleUpdate represents a change of the current subtitle of a channel.
type SubtitleUpdate struct {
	EventType  string  `json:"eventType"`
	Channel    string  `json:"channel"`
	SessionID  string  `json:"sessionId"`
	Timestamp  int64   `json:"timestamp"`
	UID        int64   `json:"uid"`
	Seqnum     int32   `json:"seqnum"`
	Lang       int32   `json:"lang"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
}

// SubtitleCleared represents the current subtitle of a channel being reset.
type SubtitleCleared struct {
	EventType string `json:"eventType"`
	Channel   string `json:"channel"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}
