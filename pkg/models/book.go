package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Title       string    `bun:",nullzero" json:"title"`
	PublishYear int       `bun:",nullzero" json:"publish_year"`
	Feedback    *string   `json:"feedback"`
	AuthorID    int       `bun:",nullzero" json:"author_id"`
	Author      *Author   `bun:"rel:belongs-to,join:author_id=id" json:"author,omitempty"`
	Genres      []*Genre  `bun:"m2m:book_genres,join:Book=Genre" json:"genres,omitempty"`
}

// HasGenre reports whether the loaded genre set contains the given id.
func (b *Book) HasGenre(genreID int) bool {
	for _, g := range b.Genres {
		if g.ID == genreID {
			return true
		}
	}
	return false
}
