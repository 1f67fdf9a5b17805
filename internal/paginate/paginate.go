// Package paginate walks cursor-based result pages from either tracker into a
// flat sequence.
package paginate

import (
	"context"
	"fmt"
)

// Page is one page of results from a cursor-paginated list operation.
type Page[T any] struct {
	Items   []T
	HasMore bool
	Cursor  string // cursor for the next page; meaningful only when HasMore
}

// FetchFunc fetches the page that starts at cursor. The first page is
// requested with an empty cursor.
type FetchFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Iterator lazily fetches pages. Each call to Next fetches one page.
//
// The iterator is not safe for concurrent use. It is restartable only by
// constructing a new one.
type Iterator[T any] struct {
	fetch  FetchFunc[T]
	cursor string
	seen   map[string]bool
	done   bool
}

// New returns an iterator positioned before the first page.
func New[T any](fetch FetchFunc[T]) *Iterator[T] {
	return &Iterator[T]{fetch: fetch, seen: make(map[string]bool)}
}

// Next fetches the next page and returns its items. Returns nil, nil once all
// pages have been consumed. A page with zero items but HasMore set is passed
// through as an empty, non-nil slice.
func (it *Iterator[T]) Next(ctx context.Context) ([]T, error) {
	if it.done {
		return nil, nil
	}

	page, err := it.fetch(ctx, it.cursor)
	if err != nil {
		it.done = true
		return nil, err
	}

	if !page.HasMore {
		it.done = true
	} else {
		if page.Cursor == "" {
			it.done = true
			return nil, fmt.Errorf("page reports more results but no cursor")
		}
		if it.seen[page.Cursor] {
			it.done = true
			return nil, fmt.Errorf("cursor %q repeated", page.Cursor)
		}
		it.seen[page.Cursor] = true
		it.cursor = page.Cursor
	}

	if page.Items == nil {
		return []T{}, nil
	}
	return page.Items, nil
}

// Collect fetches all remaining pages. On error nothing is returned: a
// truncated set would hide updates until the next window.
func (it *Iterator[T]) Collect(ctx context.Context) ([]T, error) {
	var all []T
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if items == nil {
			return all, nil
		}
		all = append(all, items...)
	}
}

// All walks every page of fetch and returns the concatenated items.
func All[T any](ctx context.Context, fetch FetchFunc[T]) ([]T, error) {
	return New(fetch).Collect(ctx)
}
