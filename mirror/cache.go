// Package mirror holds the client-side reconciliation cache: a per-session
// in-memory copy of one room's posts that applies local mutations
// optimistically and reconciles them against authoritative events from
// the bus. All state lives on a single event loop, so an optimistic
// mutation and an arriving event never race.
package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclass/liveforum/gateway"
	"github.com/openclass/liveforum/models"
	"github.com/openclass/liveforum/realtime"
)

// Client-side error kinds. A timed-out or disconnected intent rolls the
// optimistic mutation back; the caller decides whether to retry.
var (
	ErrTimeout      = errors.New("mirror: no gateway response within timeout")
	ErrDisconnected = errors.New("mirror: session disconnected")
)

const defaultIntentTimeout = 5 * time.Second

// Sender carries intents to the mutation gateway. The in-process gateway
// satisfies it directly; a networked client wraps its connection.
type Sender interface {
	Dispatch(ctx context.Context, intent gateway.Intent) (interface{}, error)
}

// State tracks how far an entry is through reconciliation.
type State int

const (
	// StateConfirmed means authoritative server state backs the entry.
	StateConfirmed State = iota
	// StateOptimistic means the entry was applied locally and still
	// awaits its authoritative event.
	StateOptimistic
)

type entry struct {
	post  *models.Post
	state State
}

// CreatePostDraft is the user's input for an optimistic post creation.
type CreatePostDraft struct {
	Title          string
	Body           string
	Category       string
	Tags           []string
	IsAnnouncement bool
}

// Cache mirrors one room for one actor.
type Cache struct {
	room    string
	actorID string
	role    models.Role
	sender  Sender
	timeout time.Duration
	log     *zap.SugaredLogger

	ops       chan func()
	closed    chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the loop goroutine.
	entries         map[string]*entry
	deleted         map[string]struct{}
	pendingPosts    map[string]string
	pendingComments map[string]string
}

// NewCache starts the cache's event loop. timeout bounds how long an
// intent may wait for the gateway; zero selects the default.
func NewCache(room, actorID string, role models.Role, sender Sender, timeout time.Duration, log *zap.SugaredLogger) *Cache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = defaultIntentTimeout
	}
	c := &Cache{
		room:            room,
		actorID:         actorID,
		role:            role,
		sender:          sender,
		timeout:         timeout,
		log:             log,
		ops:             make(chan func(), 64),
		closed:          make(chan struct{}),
		entries:         make(map[string]*entry),
		deleted:         make(map[string]struct{}),
		pendingPosts:    make(map[string]string),
		pendingComments: make(map[string]string),
	}
	go c.loop()
	return c
}

// Close stops the event loop. Subsequent mutations fail with
// ErrDisconnected.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Cache) loop() {
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.closed:
			return
		}
	}
}

// do runs fn on the event loop and waits for it to finish.
func (c *Cache) do(fn func()) error {
	done := make(chan struct{})
	select {
	case c.ops <- func() { fn(); close(done) }:
	case <-c.closed:
		return ErrDisconnected
	}
	select {
	case <-done:
		return nil
	case <-c.closed:
		return ErrDisconnected
	}
}

// dispatch sends an intent with the cache's timeout bound applied.
func (c *Cache) dispatch(ctx context.Context, intent gateway.Intent) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		v   interface{}
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := c.sender.Dispatch(ctx, intent)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return r.v, r.err
	case <-ctx.Done():
		return nil, ErrTimeout
	case <-c.closed:
		return nil, ErrDisconnected
	}
}

func (c *Cache) intent(t gateway.IntentType, params interface{}) gateway.Intent {
	raw, _ := json.Marshal(params)
	return gateway.Intent{
		Type:      t,
		ActorID:   c.actorID,
		ActorRole: c.role,
		Room:      c.room,
		Params:    raw,
	}
}

// Seed replaces the cache's contents with a freshly fetched snapshot.
// Called after first connect and after every reconnect: confirmed state
// is discarded wholesale so no silently lost event can linger.
func (c *Cache) Seed(posts []models.Post) error {
	return c.do(func() {
		c.entries = make(map[string]*entry, len(posts))
		c.deleted = make(map[string]struct{})
		c.pendingPosts = make(map[string]string)
		c.pendingComments = make(map[string]string)
		for i := range posts {
			p := posts[i].Clone()
			c.entries[p.ID] = &entry{post: p, state: StateConfirmed}
		}
	})
}

// Posts returns copies of the tracked posts in chronological order.
func (c *Cache) Posts() []models.Post {
	var out []models.Post
	_ = c.do(func() {
		out = make([]models.Post, 0, len(c.entries))
		for _, e := range c.entries {
			out = append(out, *e.post.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Post returns a copy of one tracked post.
func (c *Cache) Post(id string) (*models.Post, bool) {
	var out *models.Post
	_ = c.do(func() {
		if e, ok := c.entries[id]; ok {
			out = e.post.Clone()
		}
	})
	return out, out != nil
}

// StateOf reports the reconciliation state of a tracked post.
func (c *Cache) StateOf(id string) (State, bool) {
	var st State
	found := false
	_ = c.do(func() {
		if e, ok := c.entries[id]; ok {
			st = e.state
			found = true
		}
	})
	return st, found
}

// CreatePost applies the draft locally under a temporary id, sends the
// intent, and rolls the optimistic entry back if the gateway rejects it
// or does not answer in time.
func (c *Cache) CreatePost(ctx context.Context, draft CreatePostDraft) (*models.Post, error) {
	tempID := uuid.NewString()
	now := time.Now()
	optimistic := &models.Post{
		ID:             tempID,
		Room:           c.room,
		AuthorID:       c.actorID,
		Title:          draft.Title,
		Body:           draft.Body,
		Category:       draft.Category,
		Tags:           models.StringList(draft.Tags),
		IsAnnouncement: draft.IsAnnouncement,
		Likes:          models.LikeSet{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	key := postBusinessKey(c.actorID, draft.Title, draft.Body)
	if err := c.do(func() {
		c.entries[tempID] = &entry{post: optimistic, state: StateOptimistic}
		c.pendingPosts[key] = tempID
	}); err != nil {
		return nil, err
	}

	reply, err := c.dispatch(ctx, c.intent(gateway.IntentCreatePost, map[string]interface{}{
		"title":           draft.Title,
		"body":            draft.Body,
		"category":        draft.Category,
		"tags":            draft.Tags,
		"is_announcement": draft.IsAnnouncement,
	}))
	if err != nil {
		rollbackErr := c.do(func() {
			delete(c.entries, tempID)
			delete(c.pendingPosts, key)
		})
		if rollbackErr != nil {
			return nil, rollbackErr
		}
		return nil, err
	}

	authoritative, _ := reply.(*models.Post)
	var out *models.Post
	if err := c.do(func() {
		out = c.adoptPost(tempID, key, authoritative)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// adoptPost swaps the temporary entry for the authoritative one returned
// by the gateway. If the event already arrived and installed the
// authoritative post, only the temp entry is dropped.
func (c *Cache) adoptPost(tempID, key string, authoritative *models.Post) *models.Post {
	delete(c.pendingPosts, key)
	if authoritative == nil {
		if e, ok := c.entries[tempID]; ok {
			return e.post.Clone()
		}
		return nil
	}
	delete(c.entries, tempID)
	if e, ok := c.entries[authoritative.ID]; ok {
		return e.post.Clone()
	}
	p := authoritative.Clone()
	c.entries[p.ID] = &entry{post: p, state: StateOptimistic}
	return p.Clone()
}

// AddComment optimistically appends a comment and reconciles like
// CreatePost.
func (c *Cache) AddComment(ctx context.Context, postID, content string) (*models.Comment, error) {
	tempID := uuid.NewString()
	now := time.Now()
	optimistic := models.Comment{
		ID:        tempID,
		PostID:    postID,
		AuthorID:  c.actorID,
		Content:   content,
		Likes:     models.LikeSet{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	key := commentBusinessKey(postID, c.actorID, content)
	applied := false
	if err := c.do(func() {
		if e, ok := c.entries[postID]; ok {
			e.post.Comments = append(e.post.Comments, optimistic)
			c.pendingComments[key] = tempID
			applied = true
		}
	}); err != nil {
		return nil, err
	}

	reply, err := c.dispatch(ctx, c.intent(gateway.IntentAddComment, map[string]interface{}{
		"post_id": postID,
		"content": content,
	}))
	if err != nil {
		rollbackErr := c.do(func() {
			delete(c.pendingComments, key)
			if applied {
				c.removeComment(postID, tempID)
			}
		})
		if rollbackErr != nil {
			return nil, rollbackErr
		}
		return nil, err
	}

	authoritative, _ := reply.(*models.Comment)
	var out *models.Comment
	if err := c.do(func() {
		delete(c.pendingComments, key)
		if authoritative == nil {
			return
		}
		if applied {
			c.removeComment(postID, tempID)
		}
		out = c.installComment(postID, authoritative)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// installComment appends the authoritative comment unless it is already
// present by id.
func (c *Cache) installComment(postID string, comment *models.Comment) *models.Comment {
	e, ok := c.entries[postID]
	if !ok {
		return comment.Clone()
	}
	for i := range e.post.Comments {
		if e.post.Comments[i].ID == comment.ID {
			return e.post.Comments[i].Clone()
		}
	}
	e.post.Comments = append(e.post.Comments, *comment.Clone())
	return comment.Clone()
}

func (c *Cache) removeComment(postID, commentID string) {
	e, ok := c.entries[postID]
	if !ok {
		return
	}
	for i := range e.post.Comments {
		if e.post.Comments[i].ID == commentID {
			e.post.Comments = append(e.post.Comments[:i], e.post.Comments[i+1:]...)
			return
		}
	}
}

// ToggleLike flips the actor's like locally, then lets the authoritative
// replace-wins event settle the final set. On failure the prior set is
// restored.
func (c *Cache) ToggleLike(ctx context.Context, target realtime.LikeTarget, postID, commentID string) error {
	var prior models.LikeSet
	applied := false
	if err := c.do(func() {
		e, ok := c.entries[postID]
		if !ok {
			return
		}
		switch target {
		case realtime.LikeTargetPost:
			prior = e.post.Likes.Clone()
			next := e.post.Likes.Clone()
			if next == nil {
				next = models.LikeSet{}
			}
			next.Toggle(c.actorID)
			e.post.Likes = next
			applied = true
		case realtime.LikeTargetComment:
			for i := range e.post.Comments {
				if e.post.Comments[i].ID == commentID {
					prior = e.post.Comments[i].Likes.Clone()
					next := e.post.Comments[i].Likes.Clone()
					if next == nil {
						next = models.LikeSet{}
					}
					next.Toggle(c.actorID)
					e.post.Comments[i].Likes = next
					applied = true
					return
				}
			}
		}
	}); err != nil {
		return err
	}

	_, err := c.dispatch(ctx, c.intent(gateway.IntentToggleLike, map[string]interface{}{
		"target_type": string(target),
		"post_id":     postID,
		"comment_id":  commentID,
	}))
	if err != nil && applied {
		rollbackErr := c.do(func() {
			e, ok := c.entries[postID]
			if !ok {
				return
			}
			switch target {
			case realtime.LikeTargetPost:
				e.post.Likes = prior
			case realtime.LikeTargetComment:
				for i := range e.post.Comments {
					if e.post.Comments[i].ID == commentID {
						e.post.Comments[i].Likes = prior
						return
					}
				}
			}
		})
		if rollbackErr != nil {
			return rollbackErr
		}
	}
	return err
}

// DeletePost removes the post locally and restores it if the intent
// fails.
func (c *Cache) DeletePost(ctx context.Context, postID string) error {
	return c.mutatePost(ctx, postID,
		func(p *models.Post) {},
		c.intent(gateway.IntentDeletePost, map[string]interface{}{"post_id": postID}),
		true)
}

// DeleteComment removes the comment locally, clearing the post's solved
// flag when the comment held the solution, and restores the prior state
// on failure.
func (c *Cache) DeleteComment(ctx context.Context, postID, commentID string) error {
	return c.mutatePost(ctx, postID, func(p *models.Post) {
		for i := range p.Comments {
			if p.Comments[i].ID == commentID {
				if p.Comments[i].IsSolution {
					p.IsSolved = false
				}
				p.Comments = append(p.Comments[:i], p.Comments[i+1:]...)
				return
			}
		}
	}, c.intent(gateway.IntentDeleteComment, map[string]interface{}{
		"post_id":    postID,
		"comment_id": commentID,
	}), false)
}

// PinPost flips the pin flag optimistically.
func (c *Cache) PinPost(ctx context.Context, postID string, pinned bool) error {
	return c.mutatePost(ctx, postID, func(p *models.Post) {
		p.IsPinned = pinned
	}, c.intent(gateway.IntentPinPost, map[string]interface{}{
		"post_id": postID,
		"pinned":  pinned,
	}), false)
}

// MarkSolution marks the comment as solution optimistically, clearing
// any previous one.
func (c *Cache) MarkSolution(ctx context.Context, postID, commentID string) error {
	return c.mutatePost(ctx, postID, func(p *models.Post) {
		for i := range p.Comments {
			p.Comments[i].IsSolution = p.Comments[i].ID == commentID
		}
		p.IsSolved = true
	}, c.intent(gateway.IntentMarkSolution, map[string]interface{}{
		"post_id":    postID,
		"comment_id": commentID,
	}), false)
}

// mutatePost applies mutate to a whole-post clone, swaps it in, sends the
// intent, and restores the prior clone when the intent fails. remove
// deletes the entry instead of mutating it.
func (c *Cache) mutatePost(ctx context.Context, postID string, mutate func(*models.Post), intent gateway.Intent, remove bool) error {
	var prior *entry
	if err := c.do(func() {
		e, ok := c.entries[postID]
		if !ok {
			return
		}
		prior = &entry{post: e.post.Clone(), state: e.state}
		if remove {
			delete(c.entries, postID)
			c.deleted[postID] = struct{}{}
		} else {
			mutate(e.post)
		}
	}); err != nil {
		return err
	}

	_, err := c.dispatch(ctx, intent)
	if err != nil && prior != nil {
		rollbackErr := c.do(func() {
			if remove {
				delete(c.deleted, postID)
			}
			c.entries[postID] = prior
		})
		if rollbackErr != nil {
			return rollbackErr
		}
	}
	return err
}

// ApplyEvent reconciles one authoritative event into the mirror. Events
// for entities the cache has never seen are inserted directly in
// confirmed state; duplicates by id are collapsed.
func (c *Cache) ApplyEvent(evt realtime.Event) error {
	if evt.Room != c.room {
		return nil
	}
	return c.do(func() {
		switch evt.Type {
		case realtime.EventPostCreated:
			if post := asPost(evt.Payload); post != nil {
				c.applyPostCreated(post)
			}
		case realtime.EventPostUpdated:
			if post := asPost(evt.Payload); post != nil {
				c.applyPostUpserted(post)
			}
		case realtime.EventPostDeleted:
			if p, ok := evt.Payload.(realtime.PostDeletedPayload); ok {
				delete(c.entries, p.PostID)
				c.deleted[p.PostID] = struct{}{}
			}
		case realtime.EventCommentCreated:
			if p, ok := evt.Payload.(realtime.CommentCreatedPayload); ok && p.Comment != nil {
				c.applyCommentCreated(p.PostID, p.Comment)
			}
		case realtime.EventCommentDeleted:
			if p, ok := evt.Payload.(realtime.CommentDeletedPayload); ok {
				c.applyCommentDeleted(p.PostID, p.CommentID)
			}
		case realtime.EventLikeToggled:
			if p, ok := evt.Payload.(realtime.LikeToggledPayload); ok {
				c.applyLikeToggled(p)
			}
		case realtime.EventPostPinned:
			if p, ok := evt.Payload.(realtime.PostPinnedPayload); ok {
				if e, ok := c.entries[p.PostID]; ok {
					e.post.IsPinned = p.IsPinned
					e.state = StateConfirmed
				}
			}
		case realtime.EventCommentMarkedSolution:
			if p, ok := evt.Payload.(realtime.SolutionMarkedPayload); ok {
				c.applySolutionMarked(p)
			}
		}
	})
}

func (c *Cache) applyPostCreated(post *models.Post) {
	if _, gone := c.deleted[post.ID]; gone {
		return
	}
	if e, ok := c.entries[post.ID]; ok {
		e.post = post.Clone()
		e.state = StateConfirmed
		return
	}
	key := postBusinessKey(post.AuthorID, post.Title, post.Body)
	if tempID, ok := c.pendingPosts[key]; ok {
		delete(c.entries, tempID)
		delete(c.pendingPosts, key)
	}
	c.entries[post.ID] = &entry{post: post.Clone(), state: StateConfirmed}
}

func (c *Cache) applyPostUpserted(post *models.Post) {
	if _, gone := c.deleted[post.ID]; gone {
		return
	}
	c.entries[post.ID] = &entry{post: post.Clone(), state: StateConfirmed}
}

func (c *Cache) applyCommentCreated(postID string, comment *models.Comment) {
	e, ok := c.entries[postID]
	if !ok {
		return
	}
	for i := range e.post.Comments {
		if e.post.Comments[i].ID == comment.ID {
			e.post.Comments[i] = *comment.Clone()
			return
		}
	}
	key := commentBusinessKey(postID, comment.AuthorID, comment.Content)
	if tempID, ok := c.pendingComments[key]; ok {
		c.removeComment(postID, tempID)
		delete(c.pendingComments, key)
	}
	e.post.Comments = append(e.post.Comments, *comment.Clone())
}

func (c *Cache) applyCommentDeleted(postID, commentID string) {
	e, ok := c.entries[postID]
	if !ok {
		return
	}
	for i := range e.post.Comments {
		if e.post.Comments[i].ID == commentID {
			if e.post.Comments[i].IsSolution {
				e.post.IsSolved = false
			}
			e.post.Comments = append(e.post.Comments[:i], e.post.Comments[i+1:]...)
			return
		}
	}
}

func (c *Cache) applyLikeToggled(p realtime.LikeToggledPayload) {
	e, ok := c.entries[p.PostID]
	if !ok {
		return
	}
	switch p.TargetType {
	case realtime.LikeTargetPost:
		e.post.Likes = p.Likes.Clone()
	case realtime.LikeTargetComment:
		for i := range e.post.Comments {
			if e.post.Comments[i].ID == p.TargetID {
				e.post.Comments[i].Likes = p.Likes.Clone()
				return
			}
		}
	}
}

func (c *Cache) applySolutionMarked(p realtime.SolutionMarkedPayload) {
	e, ok := c.entries[p.PostID]
	if !ok {
		return
	}
	for i := range e.post.Comments {
		e.post.Comments[i].IsSolution = e.post.Comments[i].ID == p.CommentID
	}
	e.post.IsSolved = true
	e.state = StateConfirmed
}

func asPost(payload interface{}) *models.Post {
	switch p := payload.(type) {
	case *models.Post:
		return p
	case models.Post:
		return &p
	default:
		return nil
	}
}

// postBusinessKey identifies a post creation independently of its id, so
// an optimistic entry can be matched against the authoritative event even
// when ids differ.
func postBusinessKey(authorID, title, body string) string {
	h := sha256.New()
	h.Write([]byte(authorID))
	h.Write([]byte{0})
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

func commentBusinessKey(postID, authorID, content string) string {
	h := sha256.New()
	h.Write([]byte(postID))
	h.Write([]byte{0})
	h.Write([]byte(authorID))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
