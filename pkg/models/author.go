package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	FirstName string    `bun:",nullzero" json:"first_name"`
	LastName  string    `bun:",nullzero" json:"last_name"`
	BirthYear *int      `json:"birth_year"`
	Books     []*Book   `bun:"rel:has-many,join:id=author_id" json:"books,omitempty"`
}

func (a *Author) FullName() string {
	return a.FirstName + " " + a.LastName
}
