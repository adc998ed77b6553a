package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/openclass/liveforum/models"
	"github.com/openclass/liveforum/realtime"
	"github.com/openclass/liveforum/store"
	"github.com/openclass/liveforum/utils"
)

// ErrBadIntent marks a request that failed validation before touching the
// store: unknown type, malformed params, or an unparseable room.
var ErrBadIntent = errors.New("gateway: malformed intent")

// Gateway is the single write path of the forum. Every mutation intent
// passes through Dispatch: authorization, sanitization, the store call,
// and the event publish on success. A failed intent returns an error to
// the caller only; nothing reaches other subscribers.
type Gateway struct {
	store *store.Aggregate
	bus   *realtime.Bus
	log   *zap.SugaredLogger

	// invalidate clears cached room reads after a mutation; nil skips.
	invalidate func(prefix string)
}

// New wires a gateway over the aggregate store and event bus. invalidate
// may be nil when no read cache is in play.
func New(agg *store.Aggregate, bus *realtime.Bus, log *zap.SugaredLogger, invalidate func(prefix string)) *Gateway {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Gateway{store: agg, bus: bus, log: log, invalidate: invalidate}
}

// Dispatch authorizes and applies one intent, publishes the resulting
// event to the room, and returns the canonical entity.
func (g *Gateway) Dispatch(ctx context.Context, intent Intent) (interface{}, error) {
	if _, err := models.ParseRoom(intent.Room); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadIntent, err)
	}
	if !intent.ActorRole.Valid() || intent.ActorID == "" {
		return nil, fmt.Errorf("%w: missing actor", ErrBadIntent)
	}

	result, evt, err := g.apply(ctx, intent)
	if err != nil {
		g.log.Infow("intent rejected",
			"type", intent.Type, "room", intent.Room,
			"actor_id", intent.ActorID, "err", err)
		return nil, err
	}

	g.bus.Publish(intent.Room, evt)
	if g.invalidate != nil {
		g.invalidate("cache:room:" + intent.Room + ":")
	}
	return result, nil
}

func (g *Gateway) apply(ctx context.Context, intent Intent) (interface{}, realtime.Event, error) {
	none := realtime.Event{}
	switch intent.Type {
	case IntentCreatePost:
		var p createPostParams
		if err := decode(intent.Params, &p); err != nil {
			return nil, none, err
		}
		title := utils.Sanitize(strings.TrimSpace(p.Title))
		body := utils.Sanitize(p.Body)
		if title == "" || body == "" {
			return nil, none, fmt.Errorf("%w: title and body are required", ErrBadIntent)
		}
		if p.Category == "" {
			p.Category = validCategories[0]
		}
		if !validCategory(p.Category) {
			return nil, none, fmt.Errorf("%w: invalid category %q", ErrBadIntent, p.Category)
		}
		post, err := g.store.CreatePost(ctx, intent.Room, intent.ActorID, intent.ActorRole, store.CreatePostInput{
			Title:          title,
			Body:           body,
			Category:       p.Category,
			Tags:           p.Tags,
			IsAnnouncement: p.IsAnnouncement,
		})
		if err != nil {
			return nil, none, err
		}
		return post, realtime.Event{Type: realtime.EventPostCreated, Room: intent.Room, Payload: post}, nil

	case IntentUpdatePost:
		var p updatePostParams
		if err := decode(intent.Params, &p); err != nil {
			return nil, none, err
		}
		title := utils.Sanitize(strings.TrimSpace(p.Title))
		body := utils.Sanitize(p.Body)
		if p.PostID == "" || title == "" || body == "" {
			return nil, none, fmt.Errorf("%w: post_id, title and body are required", ErrBadIntent)
		}
		if p.Category == "" {
			p.Category = validCategories[0]
		}
		if !validCategory(p.Category) {
			return nil, none, fmt.Errorf("%w: invalid category %q", ErrBadIntent, p.Category)
		}
		post, err := g.store.UpdatePost(ctx, intent.Room, p.PostID, intent.ActorID, intent.ActorRole, store.UpdatePostInput{
			Title:    title,
			Body:     body,
			Category: p.Category,
			Tags:     p.Tags,
		})
		if err != nil {
			return nil, none, err
		}
		return post, realtime.Event{Type: realtime.EventPostUpdated, Room: intent.Room, Payload: post}, nil

	case IntentDeletePost:
		var p deletePostParams
		if err := decode(intent.Params, &p); err != nil {
			return nil, none, err
		}
		if p.PostID == "" {
			return nil, none, fmt.Errorf("%w: post_id is required", ErrBadIntent)
		}
		if err := g.store.DeletePost(ctx, intent.Room, p.PostID, intent.ActorID, intent.ActorRole); err != nil {
			return nil, none, err
		}
		payload := realtime.PostDeletedPayload{PostID: p.PostID}
		return payload, realtime.Event{Type: realtime.EventPostDeleted, Room: intent.Room, Payload: payload}, nil

	case IntentAddComment:
		var p addCommentParams
		if err := decode(intent.Params, &p); err != nil {
			return nil, none, err
		}
		content := utils.Sanitize(p.Content)
		if p.PostID == "" || content == "" {
			return nil, none, fmt.Errorf("%w: post_id and content are required", ErrBadIntent)
		}
		comment, err := g.store.AddComment(ctx, intent.Room, p.PostID, intent.ActorID, content)
		if err != nil {
			return nil, none, err
		}
		payload := realtime.CommentCreatedPayload{PostID: p.PostID, Comment: comment}
		return comment, realtime.Event{Type: realtime.EventCommentCreated, Room: intent.Room, Payload: payload}, nil

	case IntentDeleteComment:
		var p deleteCommentParams
		if err := decode(intent.Params, &p); err != nil {
			return nil, none, err
		}
		if p.PostID == "" || p.CommentID == "" {
			return nil, none, fmt.Errorf("%w: post_id and comment_id are required", ErrBadIntent)
		}
		deletion, err := g.store.DeleteComment(ctx, intent.Room, p.PostID, p.CommentID, intent.ActorID, intent.ActorRole)
		if err != nil {
			return nil, none, err
		}
		payload := realtime.CommentDeletedPayload{PostID: deletion.PostID, CommentID: deletion.CommentID}
		return deletion, realtime.Event{Type: realtime.EventCommentDeleted, Room: intent.Room, Payload: payload}, nil

	case IntentToggleLike:
		var p toggleLikeParams
		if err := decode(intent.Params, &p); err != nil {
			return nil, none, err
		}
		var kind store.LikeTargetKind
		switch realtime.LikeTarget(p.TargetType) {
		case realtime.LikeTargetPost:
			kind = store.LikePost
		case realtime.LikeTargetComment:
			kind = store.LikeComment
			if p.CommentID == "" {
				return nil, none, fmt.Errorf("%w: comment_id is required for comment likes", ErrBadIntent)
			}
		default:
			return nil, none, fmt.Errorf("%w: invalid like target %q", ErrBadIntent, p.TargetType)
		}
		if p.PostID == "" {
			return nil, none, fmt.Errorf("%w: post_id is required", ErrBadIntent)
		}
		res, err := g.store.ToggleLike(ctx, intent.Room, kind, p.PostID, p.CommentID, intent.ActorID)
		if err != nil {
			return nil, none, err
		}
		payload := realtime.LikeToggledPayload{
			TargetType: realtime.LikeTarget(res.Kind),
			TargetID:   res.TargetID,
			PostID:     res.PostID,
			Likes:      res.Likes,
		}
		return res, realtime.Event{Type: realtime.EventLikeToggled, Room: intent.Room, Payload: payload}, nil

	case IntentPinPost:
		var p pinPostParams
		if err := decode(intent.Params, &p); err != nil {
			return nil, none, err
		}
		if p.PostID == "" {
			return nil, none, fmt.Errorf("%w: post_id is required", ErrBadIntent)
		}
		post, err := g.store.PinPost(ctx, intent.Room, p.PostID, p.Pinned, intent.ActorID, intent.ActorRole)
		if err != nil {
			return nil, none, err
		}
		payload := realtime.PostPinnedPayload{PostID: post.ID, IsPinned: post.IsPinned}
		return post, realtime.Event{Type: realtime.EventPostPinned, Room: intent.Room, Payload: payload}, nil

	case IntentMarkSolution:
		var p markSolutionParams
		if err := decode(intent.Params, &p); err != nil {
			return nil, none, err
		}
		if p.PostID == "" || p.CommentID == "" {
			return nil, none, fmt.Errorf("%w: post_id and comment_id are required", ErrBadIntent)
		}
		post, err := g.store.MarkSolution(ctx, intent.Room, p.PostID, p.CommentID, intent.ActorID, intent.ActorRole)
		if err != nil {
			return nil, none, err
		}
		payload := realtime.SolutionMarkedPayload{PostID: p.PostID, CommentID: p.CommentID}
		return post, realtime.Event{Type: realtime.EventCommentMarkedSolution, Room: intent.Room, Payload: payload}, nil

	default:
		return nil, none, fmt.Errorf("%w: unknown intent type %q", ErrBadIntent, intent.Type)
	}
}

func decode(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing params", ErrBadIntent)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadIntent, err)
	}
	return nil
}

// ErrorKind maps an error to the structured kind carried in error
// replies: Unauthorized, NotFound, InvalidState, or BadIntent.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, store.ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, store.ErrNotFound):
		return "NotFound"
	case errors.Is(err, store.ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrBadIntent):
		return "BadIntent"
	default:
		return "Internal"
	}
}
