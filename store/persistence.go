package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/openclass/liveforum/models"
)

// Persister is the durable-store boundary. The aggregate treats it as an
// opaque collaborator: a snapshot returns the full current post, comment,
// and like state of a room, and persist calls write one entity.
type Persister interface {
	FetchRoomSnapshot(ctx context.Context, room string) ([]models.Post, error)
	SavePost(ctx context.Context, post *models.Post) error
	DeletePost(ctx context.Context, postID string) error
	SaveComment(ctx context.Context, comment *models.Comment) error
	DeleteComment(ctx context.Context, commentID string) error
}

// GormPersister implements Persister on the platform's MySQL database.
type GormPersister struct {
	db *gorm.DB
}

// NewGormPersister wraps an initialized gorm connection.
func NewGormPersister(db *gorm.DB) *GormPersister {
	return &GormPersister{db: db}
}

// FetchRoomSnapshot loads every post of the room with comments in
// chronological order and authors preloaded.
func (p *GormPersister) FetchRoomSnapshot(ctx context.Context, room string) ([]models.Post, error) {
	var posts []models.Post
	err := p.db.WithContext(ctx).
		Preload("Author").
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("Comments.Author").
		Where("room = ?", room).
		Order("created_at ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("fetch room snapshot %s: %w", room, err)
	}
	return posts, nil
}

// SavePost upserts the post row. Associations are written through their
// own calls, never as a side effect.
func (p *GormPersister) SavePost(ctx context.Context, post *models.Post) error {
	if err := p.db.WithContext(ctx).Omit("Author", "Comments").Save(post).Error; err != nil {
		return fmt.Errorf("save post %s: %w", post.ID, err)
	}
	return nil
}

// DeletePost removes the post and its comments in one transaction.
func (p *GormPersister) DeletePost(ctx context.Context, postID string) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", postID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", postID).Delete(&models.Post{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete post %s: %w", postID, err)
	}
	return nil
}

// SaveComment upserts the comment row.
func (p *GormPersister) SaveComment(ctx context.Context, comment *models.Comment) error {
	if err := p.db.WithContext(ctx).Omit("Author").Save(comment).Error; err != nil {
		return fmt.Errorf("save comment %s: %w", comment.ID, err)
	}
	return nil
}

// DeleteComment removes one comment row.
func (p *GormPersister) DeleteComment(ctx context.Context, commentID string) error {
	if err := p.db.WithContext(ctx).Where("id = ?", commentID).Delete(&models.Comment{}).Error; err != nil {
		return fmt.Errorf("delete comment %s: %w", commentID, err)
	}
	return nil
}
