package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLikeSetToggle(t *testing.T) {
	s := LikeSet{}

	liked := s.Toggle("u1")
	assert.True(t, liked)
	assert.True(t, s.Has("u1"))

	liked = s.Toggle("u1")
	assert.False(t, liked)
	assert.False(t, s.Has("u1"))
	assert.Len(t, s, 0)
}

func TestLikeSetToggleTwiceRestoresOriginal(t *testing.T) {
	s := LikeSet{}
	s.Toggle("u1")
	s.Toggle("u2")
	before := s.Clone()

	s.Toggle("u3")
	s.Toggle("u3")

	assert.Equal(t, before, s)
}

func TestLikeSetKeepsSortedOrder(t *testing.T) {
	s := LikeSet{}
	s.Toggle("charlie")
	s.Toggle("alice")
	s.Toggle("bob")

	assert.Equal(t, LikeSet{"alice", "bob", "charlie"}, s)
}

func TestLikeSetMarshalNeverNull(t *testing.T) {
	var s LikeSet
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}

func TestLikeSetCloneIsIndependent(t *testing.T) {
	s := LikeSet{"u1"}
	c := s.Clone()
	c.Toggle("u2")

	assert.False(t, s.Has("u2"))
	assert.True(t, c.Has("u2"))
}
