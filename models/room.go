package models

import (
	"errors"
	"fmt"
	"strings"
)

// RoomKind discriminates the two scope variants a room can have.
type RoomKind string

const (
	RoomKindCourse    RoomKind = "course"
	RoomKindCommunity RoomKind = "community"
)

// ErrInvalidRoom is returned when a room name cannot be parsed.
var ErrInvalidRoom = errors.New("invalid room name")

// RoomScope is the typed form of a room name: either a course-scoped room
// or the platform-wide community room. Building rooms through this type
// keeps malformed names out of the registry and the event bus.
type RoomScope struct {
	Kind     RoomKind
	CourseID string
}

// CourseRoom returns the scope for a single course's discussion room.
func CourseRoom(courseID string) RoomScope {
	return RoomScope{Kind: RoomKindCourse, CourseID: courseID}
}

// CommunityRoom returns the scope of the platform-wide room.
func CommunityRoom() RoomScope {
	return RoomScope{Kind: RoomKindCommunity}
}

// ParseRoom parses "course:<id>" or "community" into a RoomScope.
func ParseRoom(name string) (RoomScope, error) {
	name = strings.TrimSpace(name)
	if name == string(RoomKindCommunity) {
		return CommunityRoom(), nil
	}
	prefix := string(RoomKindCourse) + ":"
	if rest, ok := strings.CutPrefix(name, prefix); ok {
		rest = strings.TrimSpace(rest)
		if rest == "" || strings.Contains(rest, ":") {
			return RoomScope{}, fmt.Errorf("%w: %q", ErrInvalidRoom, name)
		}
		return CourseRoom(rest), nil
	}
	return RoomScope{}, fmt.Errorf("%w: %q", ErrInvalidRoom, name)
}

// String renders the canonical wire name of the room.
func (r RoomScope) String() string {
	if r.Kind == RoomKindCourse {
		return string(RoomKindCourse) + ":" + r.CourseID
	}
	return string(RoomKindCommunity)
}
