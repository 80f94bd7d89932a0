// Package schema validates subtitle events before they are published.
package schema

import (
	"errors"
	"fmt"

	"live-subtitles-service/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks that event is a known subtitle event with its identifying
// fields set.
func (v *Validator) Validate(event any) error {
	switch e := event.(type) {
	case models.SubtitleUpdate:
		return requireFields(models.EventSubtitleUpdated, e.EventType, e.Channel, e.SessionID)
	case *models.SubtitleUpdate:
		return v.Validate(*e)
	case models.SubtitleCleared:
		return requireFields(models.EventSubtitleCleared, e.EventType, e.Channel, e.SessionID)
	case *models.SubtitleCleared:
		return v.Validate(*e)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, event)
	}
}

func requireFields(wantType, eventType, channel, sessionId string) error {
	if eventType != wantType {
		return fmt.Errorf("%w: eventType %q, want %q", ErrInvalidEvent, eventType, wantType)
	}
	if channel == "" {
		return fmt.Errorf("%w: missing channel", ErrInvalidEvent)
	}
	if sessionId == "" {
		return fmt.Errorf("%w: missing sessionId", ErrInvalidEvent)
	}
	return nil
}
