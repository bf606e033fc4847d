// Package pagination pages over ordered index-store structures whose members
// are references into the document store. References that no longer resolve
// are dropped from the result and removed from the source on the same read.
package pagination

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/d60-Lab/socialfeed/pkg/logger"
)

// maxRefill bounds how many times a page is re-read after stale references
// were pruned from under it.
const maxRefill = 3

// Page is a single clamped view over a source.
type Page[T any] struct {
	Items   []T
	Total   int64
	Page    int
	PerPage int
}

// Pages returns the number of pages. Zero when PerPage is zero.
func (p *Page[T]) Pages() int {
	if p.PerPage <= 0 || p.Total <= 0 {
		return 0
	}
	return int((p.Total + int64(p.PerPage) - 1) / int64(p.PerPage))
}

func (p *Page[T]) HasPrev() bool { return p.Page > 1 }
func (p *Page[T]) HasNext() bool { return p.Page < p.Pages() }

func (p *Page[T]) PrevNum() int {
	if p.HasPrev() {
		return p.Page - 1
	}
	return p.Page
}

func (p *Page[T]) NextNum() int {
	if p.HasNext() {
		return p.Page + 1
	}
	return p.Page
}

// ClampPerPage bounds perPage to [0, max].
func ClampPerPage(perPage, max int) int {
	if perPage < 0 {
		return 0
	}
	if max > 0 && perPage > max {
		return max
	}
	return perPage
}

// ClampPage bounds page to [1, ceil(total/perPage)], or 1 when there is
// nothing to show.
func ClampPage(page int, total int64, perPage int) int {
	if page < 1 || total <= 0 || perPage <= 0 {
		return 1
	}
	pages := (total + int64(perPage) - 1) / int64(perPage)
	if int64(page) > pages {
		return int(pages)
	}
	return page
}

// Resolver maps references to entities. Missing keys are treated as stale.
type Resolver[T any] func(ctx context.Context, refs []string) (map[string]T, error)

// Paginate reads one page from src, resolves every reference and removes
// unresolvable ones from src. Total reflects the source after pruning.
func Paginate[T any](ctx context.Context, src Source, resolve Resolver[T], page, perPage, maxPerPage int) (*Page[T], error) {
	perPage = ClampPerPage(perPage, maxPerPage)
	total, err := src.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("source length: %w", err)
	}
	out := &Page[T]{Items: []T{}, Total: total, Page: 1, PerPage: perPage}
	if perPage == 0 {
		return out, nil
	}

	for attempt := 0; ; attempt++ {
		out.Page = ClampPage(page, out.Total, perPage)
		start := int64(out.Page-1) * int64(perPage)
		refs, err := src.Range(ctx, start, start+int64(perPage)-1)
		if err != nil {
			return nil, fmt.Errorf("source range: %w", err)
		}
		if len(refs) == 0 {
			out.Items = []T{}
			return out, nil
		}
		found, err := resolve(ctx, refs)
		if err != nil {
			return nil, err
		}

		items := make([]T, 0, len(refs))
		var stale []string
		for _, ref := range refs {
			if v, ok := found[ref]; ok {
				items = append(items, v)
			} else {
				stale = append(stale, ref)
			}
		}
		out.Items = items
		if len(stale) == 0 {
			return out, nil
		}

		if err := src.Remove(ctx, stale...); err != nil {
			// a failed removal is retried by the next read
			logger.Warn("pagination prune failed", zap.Error(err), zap.Int("stale", len(stale)))
			out.Total -= int64(len(stale))
			if out.Total < 0 {
				out.Total = 0
			}
			return out, nil
		}
		logger.Debug("pagination pruned stale refs", zap.Strings("refs", stale))
		if out.Total, err = src.Len(ctx); err != nil {
			return nil, fmt.Errorf("source length: %w", err)
		}
		if attempt+1 >= maxRefill {
			return out, nil
		}
	}
}
