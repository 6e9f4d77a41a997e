package authors

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tomebooks/tome/pkg/models"
)

// Search modes for SearchAuthors. Unknown modes fall back to SearchTypeLastName.
const (
	SearchTypeFirstName = "first_name"
	SearchTypeLastName  = "last_name"
	SearchTypeBirthYear = "birth_year"
	SearchTypeFullName  = "full_name"
)

type SearchAuthorsOptions struct {
	Type  string
	Query string
}

// searchModes dispatches a search type to its lookup. Kept as a table rather
// than a switch so SearchAuthors and the kind dispatcher share one source of
// truth for which modes exist.
var searchModes = map[string]func(*Service, context.Context, string) ([]*models.Author, error){
	SearchTypeFirstName: (*Service).searchByFirstName,
	SearchTypeLastName:  (*Service).searchByLastName,
	SearchTypeBirthYear: (*Service).searchByBirthYear,
	SearchTypeFullName:  (*Service).searchByFullName,
}

// SearchAuthors routes a (type, query) request to the matching lookup. A blank
// query lists everything; an unknown type degrades to the last-name mode.
func (svc *Service) SearchAuthors(ctx context.Context, opts SearchAuthorsOptions) ([]*models.Author, error) {
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return svc.ListAuthors(ctx, ListAuthorsOptions{})
	}

	mode, ok := searchModes[opts.Type]
	if !ok {
		mode = (*Service).searchByLastName
	}
	return mode(svc, ctx, query)
}

func (svc *Service) searchByFirstName(ctx context.Context, query string) ([]*models.Author, error) {
	return svc.searchWhere(ctx, "LOWER(a.first_name) LIKE ?", likePattern(query))
}

func (svc *Service) searchByLastName(ctx context.Context, query string) ([]*models.Author, error) {
	return svc.searchWhere(ctx, "LOWER(a.last_name) LIKE ?", likePattern(query))
}

func (svc *Service) searchByFullName(ctx context.Context, query string) ([]*models.Author, error) {
	pattern := likePattern(query)
	return svc.searchWhere(ctx, "LOWER(a.first_name) LIKE ? OR LOWER(a.last_name) LIKE ?", pattern, pattern)
}

// searchByBirthYear treats an unparseable query as "matches nothing", not as
// an error, so a typo in a year field can't fail the whole search page.
func (svc *Service) searchByBirthYear(ctx context.Context, query string) ([]*models.Author, error) {
	year, err := strconv.Atoi(query)
	if err != nil {
		return []*models.Author{}, nil
	}
	return svc.searchWhere(ctx, "a.birth_year = ?", year)
}

// SearchByYearRange returns authors born between start and end inclusive; with
// only start set it matches that year exactly, with neither it lists everyone.
func (svc *Service) SearchByYearRange(ctx context.Context, start, end *int) ([]*models.Author, error) {
	switch {
	case start != nil && end != nil:
		return svc.searchWhere(ctx, "a.birth_year BETWEEN ? AND ?", *start, *end)
	case start != nil:
		return svc.searchWhere(ctx, "a.birth_year = ?", *start)
	default:
		return svc.ListAuthors(ctx, ListAuthorsOptions{})
	}
}

func (svc *Service) searchWhere(ctx context.Context, where string, args ...interface{}) ([]*models.Author, error) {
	authorList := []*models.Author{}

	err := svc.db.NewSelect().
		Model(&authorList).
		Where(where, args...).
		Order("a.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return authorList, nil
}

func likePattern(query string) string {
	return "%" + strings.ToLower(query) + "%"
}
