package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclass/liveforum/models"
)

func TestDecodeEventPostCreated(t *testing.T) {
	post := &models.Post{ID: "p1", Room: "community", Title: "t", Likes: models.LikeSet{"u1"}}
	frame, err := json.Marshal(Event{Type: EventPostCreated, Room: "community", Payload: post})
	require.NoError(t, err)

	evt, err := DecodeEvent(frame)
	require.NoError(t, err)
	assert.Equal(t, EventPostCreated, evt.Type)

	decoded, ok := evt.Payload.(*models.Post)
	require.True(t, ok)
	assert.Equal(t, "p1", decoded.ID)
	assert.True(t, decoded.Likes.Has("u1"))
}

func TestDecodeEventLikeToggled(t *testing.T) {
	frame, err := json.Marshal(Event{
		Type: EventLikeToggled, Room: "community",
		Payload: LikeToggledPayload{
			TargetType: LikeTargetComment, TargetID: "c1", PostID: "p1",
			Likes: models.LikeSet{"u1", "u2"},
		},
	})
	require.NoError(t, err)

	evt, err := DecodeEvent(frame)
	require.NoError(t, err)

	payload, ok := evt.Payload.(LikeToggledPayload)
	require.True(t, ok)
	assert.Equal(t, LikeTargetComment, payload.TargetType)
	assert.Equal(t, models.LikeSet{"u1", "u2"}, payload.Likes)
}

func TestDecodeEventRejectsUnknownType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"post.exploded","room":"community","payload":{}}`))
	assert.Error(t, err)
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	_, err := DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}
