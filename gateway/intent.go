package gateway

import (
	"encoding/json"

	"github.com/openclass/liveforum/models"
)

// IntentType identifies a client-issued mutation request.
type IntentType string

const (
	IntentCreatePost    IntentType = "post.create"
	IntentUpdatePost    IntentType = "post.update"
	IntentDeletePost    IntentType = "post.delete"
	IntentAddComment    IntentType = "comment.create"
	IntentDeleteComment IntentType = "comment.delete"
	IntentToggleLike    IntentType = "like.toggle"
	IntentPinPost       IntentType = "post.pin"
	IntentMarkSolution  IntentType = "comment.markSolution"
)

// Intent is a mutation request. On the wire clients send {type, room,
// params}; the actor identity is attached server-side from the
// authenticated session, never trusted from the payload.
type Intent struct {
	Type      IntentType      `json:"type"`
	ActorID   string          `json:"actor_id"`
	ActorRole models.Role     `json:"actor_role"`
	Room      string          `json:"room"`
	Params    json.RawMessage `json:"params"`
}

type createPostParams struct {
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	Category       string   `json:"category"`
	Tags           []string `json:"tags"`
	IsAnnouncement bool     `json:"is_announcement"`
}

type updatePostParams struct {
	PostID   string   `json:"post_id"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

type deletePostParams struct {
	PostID string `json:"post_id"`
}

type addCommentParams struct {
	PostID  string `json:"post_id"`
	Content string `json:"content"`
}

type deleteCommentParams struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
}

type toggleLikeParams struct {
	TargetType string `json:"target_type"`
	PostID     string `json:"post_id"`
	CommentID  string `json:"comment_id"`
}

type pinPostParams struct {
	PostID string `json:"post_id"`
	Pinned bool   `json:"pinned"`
}

type markSolutionParams struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id"`
}

// Categories a post may carry. An empty category falls back to the first
// entry.
var validCategories = []string{"general", "question", "resources", "showcase", "feedback"}

func validCategory(c string) bool {
	for _, v := range validCategories {
		if c == v {
			return true
		}
	}
	return false
}
