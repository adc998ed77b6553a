package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclass/liveforum/models"
)

// memPersister keeps everything in memory and records failures on demand.
type memPersister struct {
	mu       sync.Mutex
	snapshot map[string][]models.Post
	saveErr  error

	savedPosts    []string
	savedComments []string
	deletedPosts  []string
}

func newMemPersister() *memPersister {
	return &memPersister{snapshot: map[string][]models.Post{}}
}

func (m *memPersister) FetchRoomSnapshot(_ context.Context, room string) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot[room], nil
}

func (m *memPersister) SavePost(_ context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.savedPosts = append(m.savedPosts, post.ID)
	return nil
}

func (m *memPersister) DeletePost(_ context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedPosts = append(m.deletedPosts, postID)
	return nil
}

func (m *memPersister) SaveComment(_ context.Context, comment *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.savedComments = append(m.savedComments, comment.ID)
	return nil
}

func (m *memPersister) DeleteComment(_ context.Context, _ string) error {
	return nil
}

func (m *memPersister) failSaves(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

const room = "course:algo-101"

func newTestAggregate(t *testing.T) (*Aggregate, *memPersister) {
	t.Helper()
	p := newMemPersister()
	return NewAggregate(p, nil), p
}

func mustCreatePost(t *testing.T, a *Aggregate, author string) *models.Post {
	t.Helper()
	post, err := a.CreatePost(context.Background(), room, author, models.RoleStudent, CreatePostInput{
		Title:    "binary search off by one",
		Body:     "my right bound never moves",
		Category: "question",
	})
	require.NoError(t, err)
	return post
}

func TestCreatePostAnnouncementRequiresFacilitator(t *testing.T) {
	a, _ := newTestAggregate(t)

	_, err := a.CreatePost(context.Background(), room, "student-1", models.RoleStudent, CreatePostInput{
		Title: "week 3 schedule", Body: "moved to friday", Category: "general", IsAnnouncement: true,
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	post, err := a.CreatePost(context.Background(), room, "fac-1", models.RoleFacilitator, CreatePostInput{
		Title: "week 3 schedule", Body: "moved to friday", Category: "general", IsAnnouncement: true,
	})
	require.NoError(t, err)
	assert.True(t, post.IsAnnouncement)
}

func TestCreatePostFailedPersistLeavesNoState(t *testing.T) {
	a, p := newTestAggregate(t)
	p.failSaves(errors.New("db down"))

	_, err := a.CreatePost(context.Background(), room, "u1", models.RoleStudent, CreatePostInput{
		Title: "t", Body: "b", Category: "general",
	})
	require.Error(t, err)

	count, err := a.PostCount(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUpdatePostAuthorOnly(t *testing.T) {
	a, _ := newTestAggregate(t)
	post := mustCreatePost(t, a, "author-1")

	_, err := a.UpdatePost(context.Background(), room, post.ID, "other", models.RoleFacilitator, UpdatePostInput{
		Title: "hijacked", Body: "x", Category: "general",
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	updated, err := a.UpdatePost(context.Background(), room, post.ID, "author-1", models.RoleStudent, UpdatePostInput{
		Title: "binary search, fixed", Body: "right bound moves now", Category: "question",
	})
	require.NoError(t, err)
	assert.Equal(t, "binary search, fixed", updated.Title)
}

func TestToggleLikeIsIdempotentPerUser(t *testing.T) {
	a, _ := newTestAggregate(t)
	post := mustCreatePost(t, a, "author-1")

	res, err := a.ToggleLike(context.Background(), room, LikePost, post.ID, "", "u1")
	require.NoError(t, err)
	assert.True(t, res.Likes.Has("u1"))

	res, err = a.ToggleLike(context.Background(), room, LikePost, post.ID, "", "u1")
	require.NoError(t, err)
	assert.False(t, res.Likes.Has("u1"))
	assert.Len(t, res.Likes, 0)
}

func TestToggleLikeConcurrentUsersAllLand(t *testing.T) {
	a, _ := newTestAggregate(t)
	post := mustCreatePost(t, a, "author-1")

	const users = 16
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.ToggleLike(context.Background(), room, LikePost, post.ID, "", string(rune('a'+i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := a.GetPost(context.Background(), room, post.ID)
	require.NoError(t, err)
	assert.Len(t, got.Likes, users)
}

func TestMarkSolutionMovesSingleFlag(t *testing.T) {
	a, _ := newTestAggregate(t)
	post := mustCreatePost(t, a, "author-1")
	c1, err := a.AddComment(context.Background(), room, post.ID, "u1", "try lo <= hi")
	require.NoError(t, err)
	c2, err := a.AddComment(context.Background(), room, post.ID, "u2", "use half-open bounds")
	require.NoError(t, err)

	_, err = a.MarkSolution(context.Background(), room, post.ID, c1.ID, "author-1", models.RoleStudent)
	require.NoError(t, err)

	// Marking a second comment moves the flag instead of duplicating it.
	got, err := a.MarkSolution(context.Background(), room, post.ID, c2.ID, "author-1", models.RoleStudent)
	require.NoError(t, err)

	solutions := 0
	for _, c := range got.Comments {
		if c.IsSolution {
			solutions++
			assert.Equal(t, c2.ID, c.ID)
		}
	}
	assert.Equal(t, 1, solutions)
	assert.True(t, got.IsSolved)
}

func TestMarkSolutionRequiresPostAuthorOrFacilitator(t *testing.T) {
	a, _ := newTestAggregate(t)
	post := mustCreatePost(t, a, "author-1")
	c1, err := a.AddComment(context.Background(), room, post.ID, "u1", "try lo <= hi")
	require.NoError(t, err)

	_, err = a.MarkSolution(context.Background(), room, post.ID, c1.ID, "u1", models.RoleStudent)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.MarkSolution(context.Background(), room, post.ID, c1.ID, "fac-1", models.RoleFacilitator)
	require.NoError(t, err)
}

func TestDeleteSolutionCommentClearsSolvedFlag(t *testing.T) {
	a, _ := newTestAggregate(t)
	post := mustCreatePost(t, a, "author-1")
	c1, err := a.AddComment(context.Background(), room, post.ID, "u1", "try lo <= hi")
	require.NoError(t, err)
	_, err = a.MarkSolution(context.Background(), room, post.ID, c1.ID, "author-1", models.RoleStudent)
	require.NoError(t, err)

	deletion, err := a.DeleteComment(context.Background(), room, post.ID, c1.ID, "u1", models.RoleStudent)
	require.NoError(t, err)
	assert.True(t, deletion.SolutionCleared)

	got, err := a.GetPost(context.Background(), room, post.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSolved)
	assert.Len(t, got.Comments, 0)
}

func TestDeletePostRequiresAuthorOrFacilitator(t *testing.T) {
	a, _ := newTestAggregate(t)
	post := mustCreatePost(t, a, "author-1")

	err := a.DeletePost(context.Background(), room, post.ID, "other", models.RoleStudent)
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = a.DeletePost(context.Background(), room, post.ID, "fac-1", models.RoleFacilitator)
	require.NoError(t, err)

	_, err = a.GetPost(context.Background(), room, post.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotIsChronologicalAndDetached(t *testing.T) {
	a, _ := newTestAggregate(t)
	first := mustCreatePost(t, a, "u1")
	second := mustCreatePost(t, a, "u2")

	snap, err := a.Snapshot(context.Background(), room)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, first.ID, snap[0].ID)
	assert.Equal(t, second.ID, snap[1].ID)

	// Mutating the snapshot must not leak into the aggregate.
	snap[0].Title = "tampered"
	got, err := a.GetPost(context.Background(), room, first.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "tampered", got.Title)
}

func TestRoomHydratesFromPersistedSnapshot(t *testing.T) {
	p := newMemPersister()
	p.snapshot[room] = []models.Post{
		{ID: "p1", Room: room, AuthorID: "u1", Title: "old thread", Body: "b", Likes: models.LikeSet{"u2"}},
	}
	a := NewAggregate(p, nil)

	got, err := a.GetPost(context.Background(), room, "p1")
	require.NoError(t, err)
	assert.Equal(t, "old thread", got.Title)
	assert.True(t, got.Likes.Has("u2"))
}

func TestIncrementViews(t *testing.T) {
	a, _ := newTestAggregate(t)
	post := mustCreatePost(t, a, "u1")

	views, err := a.IncrementViews(context.Background(), room, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), views)

	views, err = a.IncrementViews(context.Background(), room, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), views)
}
