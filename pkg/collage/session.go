package collage

import (
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Direction is the layout axis of a collage.
type Direction string

const (
	DirectionHorizontal Direction = "horizontal"
	DirectionVertical   Direction = "vertical"
)

// ParseDirection parses a user-supplied direction token. The empty string
// selects the vertical default.
func ParseDirection(token string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "":
		return DirectionVertical, nil
	case "horizontal":
		return DirectionHorizontal, nil
	case "vertical":
		return DirectionVertical, nil
	default:
		return "", fmt.Errorf("%w: %q (expected horizontal or vertical)", ErrInvalidDirection, token)
	}
}

// Session is one user's in-progress image collection.
type Session struct {
	ID         string
	UserID     int64
	ChatID     int64
	Direction  Direction
	Images     []string
	Processing bool
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// Snapshot is a read-only view of a session for status reporting.
type Snapshot struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Direction  Direction `json:"direction"`
	ImageCount int       `json:"image_count"`
	Processing bool      `json:"processing"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:         s.ID,
		UserID:     s.UserID,
		Direction:  s.Direction,
		ImageCount: len(s.Images),
		Processing: s.Processing,
		StartedAt:  s.StartedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func newSessionID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return id
}
