package services

import (
	"context"
	"errors"
	"testing"

	"github.com/desertthunder/spotprune/internal/shared"
)

// pagedSource serves items in pages of the given sizes, keyed by offset.
func pagedSource(sizes ...int) (PageFunc[int], *int) {
	calls := 0
	return func(ctx context.Context, offset, limit int) (*Page[int], error) {
		calls++
		start := 0
		for i, size := range sizes {
			if start == offset {
				page := &Page[int]{}
				for n := range size {
					page.Items = append(page.Items, start+n)
				}
				if i < len(sizes)-1 {
					page.Next = &Cursor{Offset: start + size, Limit: limit}
				}
				return page, nil
			}
			start += size
		}
		return nil, errors.New("unexpected offset")
	}, &calls
}

func TestFetchAll(t *testing.T) {
	ctx := context.Background()

	t.Run("Single Page", func(t *testing.T) {
		fetch, calls := pagedSource(3)
		items, err := FetchAll(ctx, fetch, 0, 50)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(items) != 3 || *calls != 1 {
			t.Fatalf("expected 3 items from 1 call, got %d items from %d calls", len(items), *calls)
		}
	})

	t.Run("Later Pages First", func(t *testing.T) {
		fetch, calls := pagedSource(2, 3, 1)
		items, err := FetchAll(ctx, fetch, 0, 50)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if *calls != 3 {
			t.Errorf("expected 3 calls, got %d", *calls)
		}

		expected := []int{5, 2, 3, 4, 0, 1}
		if len(items) != len(expected) {
			t.Fatalf("expected %d items, got %d", len(expected), len(items))
		}
		for i := range expected {
			if items[i] != expected[i] {
				t.Fatalf("expected %v, got %v", expected, items)
			}
		}
	})

	t.Run("Complete Without Duplicates", func(t *testing.T) {
		fetch, _ := pagedSource(50, 50, 50, 7)
		items, err := FetchAll(ctx, fetch, 0, 50)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		seen := make(map[int]bool)
		for _, item := range items {
			if seen[item] {
				t.Fatalf("duplicate item %d", item)
			}
			seen[item] = true
		}
		if len(seen) != 157 {
			t.Errorf("expected 157 distinct items, got %d", len(seen))
		}
	})

	t.Run("Failing Page Discards Results", func(t *testing.T) {
		errRemote := &APIError{Status: 502, Message: "Bad gateway"}
		fetch := func(ctx context.Context, offset, limit int) (*Page[int], error) {
			if offset > 0 {
				return nil, errRemote
			}
			return &Page[int]{Items: []int{1, 2}, Next: &Cursor{Offset: 2, Limit: 2}}, nil
		}

		items, err := FetchAll(ctx, fetch, 0, 2)
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Fatalf("expected ErrAPIRequest, got %v", err)
		}
		if items != nil {
			t.Errorf("expected no items, got %v", items)
		}
	})

	t.Run("Cursor Must Advance", func(t *testing.T) {
		fetch := func(ctx context.Context, offset, limit int) (*Page[int], error) {
			return &Page[int]{Items: []int{offset}, Next: &Cursor{Offset: offset, Limit: limit}}, nil
		}

		_, err := FetchAll(ctx, fetch, 0, 1)
		if !errors.Is(err, shared.ErrInvalidCursor) {
			t.Fatalf("expected ErrInvalidCursor, got %v", err)
		}
	})
}

func TestParseCursor(t *testing.T) {
	tests := []struct {
		name    string
		next    string
		want    *Cursor
		wantErr bool
	}{
		{name: "empty", next: "", want: nil},
		{name: "offset and limit", next: "https://api.spotify.com/v1/me/playlists?offset=50&limit=50", want: &Cursor{Offset: 50, Limit: 50}},
		{name: "extra params", next: "https://api.spotify.com/v1/playlists/p/tracks?offset=100&limit=100&fields=items(added_at),next", want: &Cursor{Offset: 100, Limit: 100}},
		{name: "missing limit", next: "https://api.spotify.com/v1/me/playlists?offset=50", wantErr: true},
		{name: "missing offset", next: "https://api.spotify.com/v1/me/playlists?limit=50", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCursor(tt.next)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidCursor) {
					t.Fatalf("expected ErrInvalidCursor, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}
