package models

import "time"

// Post represents a forum post inside a single room. A post never moves
// between rooms after creation.
type Post struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	Room           string     `gorm:"size:80;index;not null" json:"room"`
	AuthorID       string     `gorm:"size:36;index;not null" json:"author_id"`
	Title          string     `gorm:"size:255;not null" json:"title"`
	Body           string     `gorm:"type:text;not null" json:"body"`
	Category       string     `gorm:"size:32;default:'general'" json:"category"`
	Tags           StringList `gorm:"type:text" json:"tags"`
	IsAnnouncement bool       `json:"is_announcement"`
	IsPinned       bool       `json:"is_pinned"`
	IsSolved       bool       `json:"is_solved"`
	Views          int64      `gorm:"default:0" json:"views"`
	Likes          LikeSet    `gorm:"type:text" json:"likes"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Author         User       `gorm:"foreignKey:AuthorID" json:"author"`
	Comments       []Comment  `gorm:"foreignKey:PostID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"comments"`
}

// Clone returns a deep copy safe to hand out across goroutine boundaries.
func (p *Post) Clone() *Post {
	out := *p
	out.Likes = p.Likes.Clone()
	if p.Tags != nil {
		out.Tags = make(StringList, len(p.Tags))
		copy(out.Tags, p.Tags)
	}
	if p.Comments != nil {
		out.Comments = make([]Comment, len(p.Comments))
		for i := range p.Comments {
			out.Comments[i] = *p.Comments[i].Clone()
		}
	}
	return &out
}

// Comment is a reply nested under exactly one post. Comments keep their
// chronological insertion order within the parent.
type Comment struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	PostID     string    `gorm:"size:36;index;not null" json:"post_id"`
	AuthorID   string    `gorm:"size:36;index;not null" json:"author_id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	IsSolution bool      `json:"is_solution"`
	Likes      LikeSet   `gorm:"type:text" json:"likes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Author     User      `gorm:"foreignKey:AuthorID" json:"author"`
}

// Clone returns a deep copy of the comment.
func (c *Comment) Clone() *Comment {
	out := *c
	out.Likes = c.Likes.Clone()
	return &out
}
