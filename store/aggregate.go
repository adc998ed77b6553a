package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclass/liveforum/models"
)

// LikeTargetKind says whether a like operation addresses a post or one of
// its comments.
type LikeTargetKind string

const (
	LikePost    LikeTargetKind = "post"
	LikeComment LikeTargetKind = "comment"
)

// CreatePostInput carries the already-sanitized fields of a new post.
type CreatePostInput struct {
	Title          string
	Body           string
	Category       string
	Tags           []string
	IsAnnouncement bool
}

// UpdatePostInput carries the already-sanitized fields of a post edit.
type UpdatePostInput struct {
	Title    string
	Body     string
	Category string
	Tags     []string
}

// LikeResult is the outcome of a toggle: the full resulting like set of
// the target, which subscribers apply replace-wins.
type LikeResult struct {
	Kind     LikeTargetKind
	TargetID string
	PostID   string
	Likes    models.LikeSet
}

// CommentDeletion reports what a comment removal changed. When the
// deleted comment held the solution, the parent post's solved flag is
// cleared as well.
type CommentDeletion struct {
	PostID          string
	CommentID       string
	SolutionCleared bool
}

const lockStripes = 64

// Aggregate is the authoritative mutable state for posts, comments, and
// likes, one room at a time. Room state is hydrated lazily from the
// durable store and every mutation is written through before it becomes
// visible. Mutations are linearized per post id: concurrent operations on
// the same post apply sequentially, operations on different posts run
// concurrently.
type Aggregate struct {
	persister Persister
	log       *zap.SugaredLogger

	mu    sync.Mutex
	rooms map[string]*roomState

	locks [lockStripes]sync.Mutex
}

type roomState struct {
	once    sync.Once
	loadErr error

	mu    sync.RWMutex
	posts map[string]*models.Post
}

// NewAggregate creates a store writing through the given persister.
func NewAggregate(persister Persister, log *zap.SugaredLogger) *Aggregate {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Aggregate{
		persister: persister,
		log:       log,
		rooms:     make(map[string]*roomState),
	}
}

// room returns the hydrated state for the named room, loading the
// durable snapshot on first access.
func (a *Aggregate) room(ctx context.Context, name string) (*roomState, error) {
	a.mu.Lock()
	rs, ok := a.rooms[name]
	if !ok {
		rs = &roomState{}
		a.rooms[name] = rs
	}
	a.mu.Unlock()

	rs.once.Do(func() {
		posts, err := a.persister.FetchRoomSnapshot(ctx, name)
		if err != nil {
			rs.loadErr = err
			return
		}
		rs.posts = make(map[string]*models.Post, len(posts))
		for i := range posts {
			p := posts[i]
			rs.posts[p.ID] = &p
		}
	})
	if rs.loadErr != nil {
		// Allow a later call to retry the hydration.
		a.mu.Lock()
		if a.rooms[name] == rs {
			delete(a.rooms, name)
		}
		a.mu.Unlock()
		return nil, rs.loadErr
	}
	return rs, nil
}

// postLock returns the stripe serializing mutations of the given post.
func (a *Aggregate) postLock(postID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(postID))
	return &a.locks[h.Sum32()%lockStripes]
}

func (rs *roomState) get(postID string) (*models.Post, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	p, ok := rs.posts[postID]
	return p, ok
}

// CreatePost validates and applies a post creation. Announcements may
// only be authored by facilitators.
func (a *Aggregate) CreatePost(ctx context.Context, room, actorID string, role models.Role, in CreatePostInput) (*models.Post, error) {
	if in.IsAnnouncement && !role.CanModerate() {
		return nil, ErrUnauthorized
	}
	rs, err := a.room(ctx, room)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	post := &models.Post{
		ID:             uuid.NewString(),
		Room:           room,
		AuthorID:       actorID,
		Title:          in.Title,
		Body:           in.Body,
		Category:       in.Category,
		Tags:           models.StringList(in.Tags),
		IsAnnouncement: in.IsAnnouncement,
		Likes:          models.LikeSet{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.persister.SavePost(ctx, post); err != nil {
		return nil, err
	}

	rs.mu.Lock()
	rs.posts[post.ID] = post
	rs.mu.Unlock()

	return post.Clone(), nil
}

// UpdatePost applies an author-issued edit to the post's content fields.
func (a *Aggregate) UpdatePost(ctx context.Context, room, postID, actorID string, role models.Role, in UpdatePostInput) (*models.Post, error) {
	rs, err := a.room(ctx, room)
	if err != nil {
		return nil, err
	}

	lock := a.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	post, ok := rs.get(postID)
	if !ok {
		return nil, ErrNotFound
	}
	if post.AuthorID != actorID {
		return nil, ErrUnauthorized
	}

	next := post.Clone()
	next.Title = in.Title
	next.Body = in.Body
	next.Category = in.Category
	next.Tags = models.StringList(in.Tags)
	next.UpdatedAt = time.Now()
	if err := a.persister.SavePost(ctx, next); err != nil {
		return nil, err
	}

	rs.mu.Lock()
	rs.posts[postID] = next
	rs.mu.Unlock()

	return next.Clone(), nil
}

// AddComment appends a comment to the post's chronological sequence.
func (a *Aggregate) AddComment(ctx context.Context, room, postID, actorID, content string) (*models.Comment, error) {
	rs, err := a.room(ctx, room)
	if err != nil {
		return nil, err
	}

	lock := a.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	post, ok := rs.get(postID)
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now()
	comment := models.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		AuthorID:  actorID,
		Content:   content,
		Likes:     models.LikeSet{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.persister.SaveComment(ctx, &comment); err != nil {
		return nil, err
	}

	post.Comments = append(post.Comments, comment)
	post.UpdatedAt = now

	return comment.Clone(), nil
}

// ToggleLike flips the actor's membership in the target's like set and
// returns the full resulting set. Toggling twice restores the original
// state.
func (a *Aggregate) ToggleLike(ctx context.Context, room string, kind LikeTargetKind, postID, commentID, actorID string) (*LikeResult, error) {
	rs, err := a.room(ctx, room)
	if err != nil {
		return nil, err
	}

	lock := a.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	post, ok := rs.get(postID)
	if !ok {
		return nil, ErrNotFound
	}

	switch kind {
	case LikePost:
		next := post.Likes.Clone()
		if next == nil {
			next = models.LikeSet{}
		}
		next.Toggle(actorID)
		persisted := post.Clone()
		persisted.Likes = next
		persisted.UpdatedAt = time.Now()
		if err := a.persister.SavePost(ctx, persisted); err != nil {
			return nil, err
		}
		post.Likes = next
		post.UpdatedAt = persisted.UpdatedAt
		return &LikeResult{Kind: LikePost, TargetID: postID, PostID: postID, Likes: next.Clone()}, nil

	case LikeComment:
		idx := -1
		for i := range post.Comments {
			if post.Comments[i].ID == commentID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, ErrNotFound
		}
		next := post.Comments[idx].Likes.Clone()
		if next == nil {
			next = models.LikeSet{}
		}
		next.Toggle(actorID)
		persisted := post.Comments[idx].Clone()
		persisted.Likes = next
		persisted.UpdatedAt = time.Now()
		if err := a.persister.SaveComment(ctx, persisted); err != nil {
			return nil, err
		}
		post.Comments[idx].Likes = next
		post.Comments[idx].UpdatedAt = persisted.UpdatedAt
		return &LikeResult{Kind: LikeComment, TargetID: commentID, PostID: postID, Likes: next.Clone()}, nil

	default:
		return nil, ErrInvalidState
	}
}

// DeletePost tombstones a post. Allowed for the author or a facilitator.
func (a *Aggregate) DeletePost(ctx context.Context, room, postID, actorID string, role models.Role) error {
	rs, err := a.room(ctx, room)
	if err != nil {
		return err
	}

	lock := a.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	post, ok := rs.get(postID)
	if !ok {
		return ErrNotFound
	}
	if post.AuthorID != actorID && !role.CanModerate() {
		return ErrUnauthorized
	}
	if err := a.persister.DeletePost(ctx, postID); err != nil {
		return err
	}

	rs.mu.Lock()
	delete(rs.posts, postID)
	rs.mu.Unlock()
	return nil
}

// DeleteComment removes a comment. Allowed for the comment author or a
// facilitator. Removing the solution comment clears the post's solved
// flag, since no other comment can hold the solution at that point.
func (a *Aggregate) DeleteComment(ctx context.Context, room, postID, commentID, actorID string, role models.Role) (*CommentDeletion, error) {
	rs, err := a.room(ctx, room)
	if err != nil {
		return nil, err
	}

	lock := a.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	post, ok := rs.get(postID)
	if !ok {
		return nil, ErrNotFound
	}
	idx := -1
	for i := range post.Comments {
		if post.Comments[i].ID == commentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}
	if post.Comments[idx].AuthorID != actorID && !role.CanModerate() {
		return nil, ErrUnauthorized
	}
	if err := a.persister.DeleteComment(ctx, commentID); err != nil {
		return nil, err
	}

	wasSolution := post.Comments[idx].IsSolution
	post.Comments = append(post.Comments[:idx], post.Comments[idx+1:]...)
	post.UpdatedAt = time.Now()

	result := &CommentDeletion{PostID: postID, CommentID: commentID}
	if wasSolution && post.IsSolved {
		post.IsSolved = false
		result.SolutionCleared = true
		if err := a.persister.SavePost(ctx, post.Clone()); err != nil {
			a.log.Errorw("persist solved flag after solution removal", "post_id", postID, "err", err)
		}
	}
	return result, nil
}

// PinPost sets or clears the pin flag. Allowed for the author or a
// facilitator.
func (a *Aggregate) PinPost(ctx context.Context, room, postID string, pinned bool, actorID string, role models.Role) (*models.Post, error) {
	rs, err := a.room(ctx, room)
	if err != nil {
		return nil, err
	}

	lock := a.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	post, ok := rs.get(postID)
	if !ok {
		return nil, ErrNotFound
	}
	if post.AuthorID != actorID && !role.CanModerate() {
		return nil, ErrUnauthorized
	}

	next := post.Clone()
	next.IsPinned = pinned
	next.UpdatedAt = time.Now()
	if err := a.persister.SavePost(ctx, next); err != nil {
		return nil, err
	}

	rs.mu.Lock()
	rs.posts[postID] = next
	rs.mu.Unlock()

	return next.Clone(), nil
}

// MarkSolution marks the comment as the post's solution. Any previously
// marked comment is cleared first, so at most one comment per post holds
// the flag at every observable point. Allowed for the post author or a
// facilitator.
func (a *Aggregate) MarkSolution(ctx context.Context, room, postID, commentID, actorID string, role models.Role) (*models.Post, error) {
	rs, err := a.room(ctx, room)
	if err != nil {
		return nil, err
	}

	lock := a.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	post, ok := rs.get(postID)
	if !ok {
		return nil, ErrNotFound
	}
	if post.AuthorID != actorID && !role.CanModerate() {
		return nil, ErrUnauthorized
	}

	target := -1
	previous := -1
	for i := range post.Comments {
		if post.Comments[i].ID == commentID {
			target = i
		}
		if post.Comments[i].IsSolution {
			previous = i
		}
	}
	if target < 0 {
		return nil, ErrNotFound
	}

	now := time.Now()
	if previous >= 0 && previous != target {
		post.Comments[previous].IsSolution = false
		post.Comments[previous].UpdatedAt = now
		if err := a.persister.SaveComment(ctx, post.Comments[previous].Clone()); err != nil {
			post.Comments[previous].IsSolution = true
			return nil, err
		}
	}
	if !post.Comments[target].IsSolution {
		post.Comments[target].IsSolution = true
		post.Comments[target].UpdatedAt = now
		if err := a.persister.SaveComment(ctx, post.Comments[target].Clone()); err != nil {
			a.log.Errorw("persist solution comment", "comment_id", commentID, "err", err)
		}
	}
	if !post.IsSolved {
		post.IsSolved = true
		post.UpdatedAt = now
		if err := a.persister.SavePost(ctx, post.Clone()); err != nil {
			a.log.Errorw("persist solved flag", "post_id", postID, "err", err)
		}
	}

	return post.Clone(), nil
}

// IncrementViews bumps the post's view counter. Counter updates are
// best-effort and generate no event.
func (a *Aggregate) IncrementViews(ctx context.Context, room, postID string) (int64, error) {
	rs, err := a.room(ctx, room)
	if err != nil {
		return 0, err
	}

	lock := a.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	post, ok := rs.get(postID)
	if !ok {
		return 0, ErrNotFound
	}
	post.Views++
	if err := a.persister.SavePost(ctx, post.Clone()); err != nil {
		a.log.Debugw("persist view counter", "post_id", postID, "err", err)
	}
	return post.Views, nil
}

// GetPost returns a copy of one post with its comments.
func (a *Aggregate) GetPost(ctx context.Context, room, postID string) (*models.Post, error) {
	rs, err := a.room(ctx, room)
	if err != nil {
		return nil, err
	}
	post, ok := rs.get(postID)
	if !ok {
		return nil, ErrNotFound
	}

	lock := a.postLock(postID)
	lock.Lock()
	defer lock.Unlock()
	return post.Clone(), nil
}

// Snapshot returns copies of every post in the room in chronological
// order. Clients use it to seed or re-seed their local mirror.
func (a *Aggregate) Snapshot(ctx context.Context, room string) ([]models.Post, error) {
	rs, err := a.room(ctx, room)
	if err != nil {
		return nil, err
	}

	rs.mu.RLock()
	ids := make([]string, 0, len(rs.posts))
	for id := range rs.posts {
		ids = append(ids, id)
	}
	rs.mu.RUnlock()

	out := make([]models.Post, 0, len(ids))
	for _, id := range ids {
		lock := a.postLock(id)
		lock.Lock()
		if post, ok := rs.get(id); ok {
			out = append(out, *post.Clone())
		}
		lock.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PostCount returns the number of posts currently held for the room.
func (a *Aggregate) PostCount(ctx context.Context, room string) (int, error) {
	rs, err := a.room(ctx, room)
	if err != nil {
		return 0, err
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.posts), nil
}
