// Package search routes catalog search requests to the service owning each
// entity kind.
package search

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tomebooks/tome/pkg/authors"
	"github.com/tomebooks/tome/pkg/books"
	"github.com/tomebooks/tome/pkg/errcodes"
	"github.com/tomebooks/tome/pkg/genres"
	"github.com/tomebooks/tome/pkg/models"
	"github.com/uptrace/bun"
)

type Kind string

const (
	KindAuthors Kind = "authors"
	KindBooks   Kind = "books"
	KindGenres  Kind = "genres"
)

type Request struct {
	Kind  Kind
	Type  string
	Query string

	// Book-only id filters; AuthorID wins over GenreID, both win over Query.
	AuthorID *int
	GenreID  *int
}

// Response carries results for exactly one kind on a routed search, or all
// three for a global search.
type Response struct {
	Authors []*models.Author `json:"authors,omitempty"`
	Books   []*models.Book   `json:"books,omitempty"`
	Genres  []*models.Genre  `json:"genres,omitempty"`
}

type Service struct {
	authorSvc *authors.Service
	bookSvc   *books.Service
	genreSvc  *genres.Service
}

func NewService(db *bun.DB) *Service {
	return &Service{
		authorSvc: authors.NewService(db),
		bookSvc:   books.NewService(db),
		genreSvc:  genres.NewService(db),
	}
}

// Search dispatches the request to the service owning its kind.
func (svc *Service) Search(ctx context.Context, req Request) (*Response, error) {
	switch req.Kind {
	case KindAuthors:
		found, err := svc.authorSvc.SearchAuthors(ctx, authors.SearchAuthorsOptions{
			Type:  req.Type,
			Query: req.Query,
		})
		if err != nil {
			return nil, err
		}
		return &Response{Authors: found}, nil
	case KindBooks:
		found, err := svc.bookSvc.SearchBooks(ctx, books.SearchBooksOptions{
			Type:     req.Type,
			Query:    req.Query,
			AuthorID: req.AuthorID,
			GenreID:  req.GenreID,
		})
		if err != nil {
			return nil, err
		}
		return &Response{Books: found}, nil
	case KindGenres:
		found, err := svc.genreSvc.ListGenres(ctx, genres.ListGenresOptions{
			Search: &req.Query,
		})
		if err != nil {
			return nil, err
		}
		return &Response{Genres: found}, nil
	default:
		return nil, errcodes.ValidationError(`"kind" must be one of authors, books, genres`)
	}
}

// Global runs the default-mode search of every kind at once, for
// typeahead-style callers.
func (svc *Service) Global(ctx context.Context, query string) (*Response, error) {
	resp := &Response{}

	found, err := svc.authorSvc.SearchAuthors(ctx, authors.SearchAuthorsOptions{Query: query})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp.Authors = found

	foundBooks, err := svc.bookSvc.SearchBooks(ctx, books.SearchBooksOptions{Query: query})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp.Books = foundBooks

	foundGenres, err := svc.genreSvc.ListGenres(ctx, genres.ListGenresOptions{Search: &query})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp.Genres = foundGenres

	return resp, nil
}
