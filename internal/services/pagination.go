package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/desertthunder/spotprune/internal/shared"
)

// Cursor addresses the next page of a paginated listing.
type Cursor struct {
	Offset int
	Limit  int
}

// Page is one page of a paginated listing. Next is nil on the last page.
type Page[T any] struct {
	Items []T
	Next  *Cursor
}

// ParseCursor extracts the offset and limit query parameters of a "next" URL.
//
// An empty URL yields a nil cursor. A URL without both parameters is an [shared.ErrInvalidCursor].
func ParseCursor(next string) (*Cursor, error) {
	if next == "" {
		return nil, nil
	}

	u, err := url.Parse(next)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", shared.ErrInvalidCursor, next, err)
	}

	q := u.Query()
	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q has no offset", shared.ErrInvalidCursor, next)
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q has no limit", shared.ErrInvalidCursor, next)
	}

	return &Cursor{Offset: offset, Limit: limit}, nil
}

// PageFunc fetches the page starting at offset.
type PageFunc[T any] func(ctx context.Context, offset, limit int) (*Page[T], error)

// FetchAll follows the cursors of fetch starting at (offset, limit) and returns the items of every page.
//
// Later pages are placed ahead of earlier ones: for pages p1..pn the result is pn ++ ... ++ p1,
// each page keeping its own order. Any failing page fails the whole fetch and no items are returned.
func FetchAll[T any](ctx context.Context, fetch PageFunc[T], offset, limit int) ([]T, error) {
	var pages [][]T
	total := 0
	cursor := &Cursor{Offset: offset, Limit: limit}

	for cursor != nil {
		page, err := fetch(ctx, cursor.Offset, cursor.Limit)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page.Items)
		total += len(page.Items)

		if page.Next != nil && page.Next.Offset <= cursor.Offset {
			return nil, fmt.Errorf("%w: next offset %d does not advance past %d", shared.ErrInvalidCursor, page.Next.Offset, cursor.Offset)
		}
		cursor = page.Next
	}

	items := make([]T, 0, total)
	for i := len(pages) - 1; i >= 0; i-- {
		items = append(items, pages[i]...)
	}
	return items, nil
}
