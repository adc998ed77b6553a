package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomCourse(t *testing.T) {
	scope, err := ParseRoom("course:algo-101")
	require.NoError(t, err)
	assert.Equal(t, RoomKindCourse, scope.Kind)
	assert.Equal(t, "algo-101", scope.CourseID)
	assert.Equal(t, "course:algo-101", scope.String())
}

func TestParseRoomCommunity(t *testing.T) {
	scope, err := ParseRoom("community")
	require.NoError(t, err)
	assert.Equal(t, RoomKindCommunity, scope.Kind)
	assert.Empty(t, scope.CourseID)
}

func TestParseRoomRejectsGarbage(t *testing.T) {
	cases := []string{"", "course:", "classroom:x", "community:extra"}
	for _, raw := range cases {
		_, err := ParseRoom(raw)
		assert.ErrorIs(t, err, ErrInvalidRoom, "input %q", raw)
	}
}

func TestRoleCanModerate(t *testing.T) {
	assert.False(t, RoleStudent.CanModerate())
	assert.True(t, RoleFacilitator.CanModerate())
	assert.True(t, RoleAdmin.CanModerate())
}
