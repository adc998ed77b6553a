package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/openclass/liveforum/models"
)

// EventType identifies one entry of the forum event taxonomy.
type EventType string

const (
	EventPostCreated           EventType = "post.created"
	EventPostUpdated           EventType = "post.updated"
	EventPostDeleted           EventType = "post.deleted"
	EventCommentCreated        EventType = "comment.created"
	EventCommentDeleted        EventType = "comment.deleted"
	EventLikeToggled           EventType = "like.toggled"
	EventPostPinned            EventType = "post.pinned"
	EventCommentMarkedSolution EventType = "comment.markedSolution"
)

// Event is the envelope broadcast to every subscriber of a room after a
// mutation has been applied to canonical state. On the wire it serializes
// to {type, room, payload}.
type Event struct {
	Type    EventType   `json:"type"`
	Room    string      `json:"room"`
	Payload interface{} `json:"payload"`
}

// LikeTarget discriminates what a like.toggled event refers to.
type LikeTarget string

const (
	LikeTargetPost    LikeTarget = "post"
	LikeTargetComment LikeTarget = "comment"
)

// PostDeletedPayload carries the id of a removed post.
type PostDeletedPayload struct {
	PostID string `json:"post_id"`
}

// CommentCreatedPayload carries a new comment together with its parent.
type CommentCreatedPayload struct {
	PostID  string          `json:"post_id"`
	Comment *models.Comment `json:"comment"`
}

// CommentDeletedPayload identifies a removed comment within its parent.
type CommentDeletedPayload struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
}

// LikeToggledPayload carries the full resulting like set of the target.
// Receivers replace their local set wholesale; sets are never merged.
type LikeToggledPayload struct {
	TargetType LikeTarget     `json:"target_type"`
	TargetID   string         `json:"target_id"`
	PostID     string         `json:"post_id"`
	Likes      models.LikeSet `json:"likes"`
}

// PostPinnedPayload carries the new pin flag of a post.
type PostPinnedPayload struct {
	PostID   string `json:"post_id"`
	IsPinned bool   `json:"is_pinned"`
}

// SolutionMarkedPayload identifies the comment now holding the solution.
// Receivers clear any previously marked comment on the same post.
type SolutionMarkedPayload struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
}

// DecodeEvent parses a wire frame into an envelope with its payload
// decoded into the concrete type for the event's entry in the taxonomy.
func DecodeEvent(frame []byte) (Event, error) {
	var raw struct {
		Type    EventType       `json:"type"`
		Room    string          `json:"room"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Event{}, fmt.Errorf("decode event frame: %w", err)
	}
	evt := Event{Type: raw.Type, Room: raw.Room}

	var payload interface{}
	switch raw.Type {
	case EventPostCreated, EventPostUpdated:
		payload = &models.Post{}
	case EventPostDeleted:
		payload = &PostDeletedPayload{}
	case EventCommentCreated:
		payload = &CommentCreatedPayload{}
	case EventCommentDeleted:
		payload = &CommentDeletedPayload{}
	case EventLikeToggled:
		payload = &LikeToggledPayload{}
	case EventPostPinned:
		payload = &PostPinnedPayload{}
	case EventCommentMarkedSolution:
		payload = &SolutionMarkedPayload{}
	default:
		return Event{}, fmt.Errorf("decode event frame: unknown type %q", raw.Type)
	}
	if err := json.Unmarshal(raw.Payload, payload); err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", raw.Type, err)
	}
	switch p := payload.(type) {
	case *PostDeletedPayload:
		evt.Payload = *p
	case *CommentCreatedPayload:
		evt.Payload = *p
	case *CommentDeletedPayload:
		evt.Payload = *p
	case *LikeToggledPayload:
		evt.Payload = *p
	case *PostPinnedPayload:
		evt.Payload = *p
	case *SolutionMarkedPayload:
		evt.Payload = *p
	default:
		evt.Payload = payload
	}
	return evt, nil
}
