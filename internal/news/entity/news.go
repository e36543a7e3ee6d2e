package entity

import "time"

// News is a row in the `news` table. Deleting a news item only clears
// IsActive; inactive items are hidden from readers.
type News struct {
	ID        int64     `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content"`
	CreatedBy int64     `db:"created_by" json:"created_by"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Patch carries optional news updates; nil fields are left unchanged.
type Patch struct {
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}
