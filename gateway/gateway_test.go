package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclass/liveforum/models"
	"github.com/openclass/liveforum/realtime"
	"github.com/openclass/liveforum/store"
)

const room = "course:algo-101"

type memPersister struct{}

func (m *memPersister) FetchRoomSnapshot(context.Context, string) ([]models.Post, error) {
	return nil, nil
}
func (m *memPersister) SavePost(context.Context, *models.Post) error       { return nil }
func (m *memPersister) DeletePost(context.Context, string) error           { return nil }
func (m *memPersister) SaveComment(context.Context, *models.Comment) error { return nil }
func (m *memPersister) DeleteComment(context.Context, string) error        { return nil }

func params(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func newTestGateway(t *testing.T) (*Gateway, chan realtime.Event) {
	t.Helper()
	bus := realtime.NewBus(realtime.NewRegistry(), nil)
	events := make(chan realtime.Event, 16)
	bus.Subscribe("observer", room, func(evt realtime.Event) { events <- evt })

	agg := store.NewAggregate(&memPersister{}, nil)
	return New(agg, bus, nil, nil), events
}

func waitEvent(t *testing.T, events chan realtime.Event) realtime.Event {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return realtime.Event{}
	}
}

func assertNoEvent(t *testing.T, events chan realtime.Event) {
	t.Helper()
	select {
	case evt := <-events:
		t.Fatalf("unexpected event %s", evt.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatchCreatePostPublishesEvent(t *testing.T) {
	gw, events := newTestGateway(t)

	result, err := gw.Dispatch(context.Background(), Intent{
		Type: IntentCreatePost, ActorID: "u1", ActorRole: models.RoleStudent, Room: room,
		Params: params(t, map[string]interface{}{"title": "hello", "body": "world"}),
	})
	require.NoError(t, err)

	post, ok := result.(*models.Post)
	require.True(t, ok)
	assert.Equal(t, "hello", post.Title)
	assert.Equal(t, "general", post.Category)

	evt := waitEvent(t, events)
	assert.Equal(t, realtime.EventPostCreated, evt.Type)
	assert.Equal(t, room, evt.Room)
}

func TestDispatchRejectedIntentPublishesNothing(t *testing.T) {
	gw, events := newTestGateway(t)

	_, err := gw.Dispatch(context.Background(), Intent{
		Type: IntentCreatePost, ActorID: "u1", ActorRole: models.RoleStudent, Room: room,
		Params: params(t, map[string]interface{}{"title": "x", "body": "y", "is_announcement": true}),
	})
	assert.ErrorIs(t, err, store.ErrUnauthorized)
	assertNoEvent(t, events)
}

func TestDispatchUnknownRoomFails(t *testing.T) {
	gw, events := newTestGateway(t)

	_, err := gw.Dispatch(context.Background(), Intent{
		Type: IntentCreatePost, ActorID: "u1", ActorRole: models.RoleStudent, Room: "classroom/7",
		Params: params(t, map[string]interface{}{"title": "x", "body": "y"}),
	})
	assert.ErrorIs(t, err, ErrBadIntent)
	assertNoEvent(t, events)
}

func TestDispatchSanitizesContent(t *testing.T) {
	gw, _ := newTestGateway(t)

	result, err := gw.Dispatch(context.Background(), Intent{
		Type: IntentCreatePost, ActorID: "u1", ActorRole: models.RoleStudent, Room: room,
		Params: params(t, map[string]interface{}{
			"title": "note",
			"body":  `hi<script>alert("x")</script> there`,
		}),
	})
	require.NoError(t, err)
	post := result.(*models.Post)
	assert.NotContains(t, post.Body, "<script>")
	assert.Contains(t, post.Body, "hi")
}

func TestDispatchInvalidCategory(t *testing.T) {
	gw, events := newTestGateway(t)

	_, err := gw.Dispatch(context.Background(), Intent{
		Type: IntentCreatePost, ActorID: "u1", ActorRole: models.RoleStudent, Room: room,
		Params: params(t, map[string]interface{}{"title": "x", "body": "y", "category": "memes"}),
	})
	assert.ErrorIs(t, err, ErrBadIntent)
	assertNoEvent(t, events)
}

func TestDispatchToggleLikeEventCarriesFullSet(t *testing.T) {
	gw, events := newTestGateway(t)

	created, err := gw.Dispatch(context.Background(), Intent{
		Type: IntentCreatePost, ActorID: "u1", ActorRole: models.RoleStudent, Room: room,
		Params: params(t, map[string]interface{}{"title": "t", "body": "b"}),
	})
	require.NoError(t, err)
	post := created.(*models.Post)
	waitEvent(t, events)

	_, err = gw.Dispatch(context.Background(), Intent{
		Type: IntentToggleLike, ActorID: "u2", ActorRole: models.RoleStudent, Room: room,
		Params: params(t, map[string]interface{}{"target_type": "post", "post_id": post.ID}),
	})
	require.NoError(t, err)

	evt := waitEvent(t, events)
	require.Equal(t, realtime.EventLikeToggled, evt.Type)
	payload, ok := evt.Payload.(realtime.LikeToggledPayload)
	require.True(t, ok)
	assert.Equal(t, realtime.LikeTargetPost, payload.TargetType)
	assert.True(t, payload.Likes.Has("u2"))
}

func TestDispatchMarkSolutionFlow(t *testing.T) {
	gw, events := newTestGateway(t)

	created, err := gw.Dispatch(context.Background(), Intent{
		Type: IntentCreatePost, ActorID: "author", ActorRole: models.RoleStudent, Room: room,
		Params: params(t, map[string]interface{}{"title": "q", "body": "b", "category": "question"}),
	})
	require.NoError(t, err)
	post := created.(*models.Post)
	waitEvent(t, events)

	commented, err := gw.Dispatch(context.Background(), Intent{
		Type: IntentAddComment, ActorID: "helper", ActorRole: models.RoleStudent, Room: room,
		Params: params(t, map[string]interface{}{"post_id": post.ID, "content": "the answer"}),
	})
	require.NoError(t, err)
	comment := commented.(*models.Comment)
	waitEvent(t, events)

	// A bystander may not mark the solution.
	_, err = gw.Dispatch(context.Background(), Intent{
		Type: IntentMarkSolution, ActorID: "bystander", ActorRole: models.RoleStudent, Room: room,
		Params: params(t, map[string]interface{}{"post_id": post.ID, "comment_id": comment.ID}),
	})
	assert.ErrorIs(t, err, store.ErrUnauthorized)
	assertNoEvent(t, events)

	_, err = gw.Dispatch(context.Background(), Intent{
		Type: IntentMarkSolution, ActorID: "author", ActorRole: models.RoleStudent, Room: room,
		Params: params(t, map[string]interface{}{"post_id": post.ID, "comment_id": comment.ID}),
	})
	require.NoError(t, err)

	evt := waitEvent(t, events)
	require.Equal(t, realtime.EventCommentMarkedSolution, evt.Type)
	payload := evt.Payload.(realtime.SolutionMarkedPayload)
	assert.Equal(t, comment.ID, payload.CommentID)
}

func TestErrorKindMapping(t *testing.T) {
	assert.Equal(t, "Unauthorized", ErrorKind(store.ErrUnauthorized))
	assert.Equal(t, "NotFound", ErrorKind(store.ErrNotFound))
	assert.Equal(t, "InvalidState", ErrorKind(store.ErrInvalidState))
	assert.Equal(t, "BadIntent", ErrorKind(ErrBadIntent))
	assert.Equal(t, "Internal", ErrorKind(context.DeadlineExceeded))
}
