// Package page computes visible slices and navigation metadata over an ordered collection. Pages are 1-based; an
// empty collection still has one page, which holds no items.
package page

import (
	"github.com/openimpact/dtrack/lib/util"
)

// DefaultSizes is the page-size allow-list used when none is supplied.
var DefaultSizes = []int{5, 10, 20, 50, 100}

// Paginator tracks the current page over a collection of T. It holds its own copy of the slice header, so later
// appends by the caller do not shift pages underneath it.
type Paginator[T any] struct {
	items []T
	size  int
	page  int
	sizes []int
}

// New builds a paginator on the given collection. A size outside the allow-list falls back to the list's first
// entry; an empty allow-list means DefaultSizes.
func New[T any](items []T, size int, sizes ...int) *Paginator[T] {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}
	if !util.InInt(sizes, size) {
		size = sizes[0]
	}
	return &Paginator[T]{items: items, size: size, page: 1, sizes: sizes}
}

// Items returns the slice visible on the current page.
func (p *Paginator[T]) Items() []T {
	lo := (p.page - 1) * p.size
	if lo >= len(p.items) {
		return nil
	}
	hi := lo + p.size
	if hi > len(p.items) {
		hi = len(p.items)
	}
	return p.items[lo:hi]
}

// TotalItems returns the collection size.
func (p *Paginator[T]) TotalItems() int {
	return len(p.items)
}

// TotalPages returns ceil(count/size), at least 1.
func (p *Paginator[T]) TotalPages() int {
	n := (len(p.items) + p.size - 1) / p.size
	if n < 1 {
		n = 1
	}
	return n
}

// Page returns the current 1-based page number.
func (p *Paginator[T]) Page() int {
	return p.page
}

// Size returns the current page size.
func (p *Paginator[T]) Size() int {
	return p.size
}

// Sizes returns the page-size allow-list.
func (p *Paginator[T]) Sizes() []int {
	return p.sizes
}

// GoToPage clamps n into [1, TotalPages] and moves there.
func (p *Paginator[T]) GoToPage(n int) {
	if n < 1 {
		n = 1
	}
	if t := p.TotalPages(); n > t {
		n = t
	}
	p.page = n
}

// First moves to the first page.
func (p *Paginator[T]) First() { p.GoToPage(1) }

// Last moves to the last page.
func (p *Paginator[T]) Last() { p.GoToPage(p.TotalPages()) }

// Next moves one page forward, saturating at the last page.
func (p *Paginator[T]) Next() { p.GoToPage(p.page + 1) }

// Prev moves one page back, saturating at the first page.
func (p *Paginator[T]) Prev() { p.GoToPage(p.page - 1) }

// HasNext reports whether a later page exists.
func (p *Paginator[T]) HasNext() bool {
	return p.page < p.TotalPages()
}

// HasPrev reports whether an earlier page exists.
func (p *Paginator[T]) HasPrev() bool {
	return p.page > 1
}

// ChangeSize switches to a new page size and recomputes the current page so the item at the top of the view stays
// visible, instead of resetting to page 1. Sizes outside the allow-list are ignored.
func (p *Paginator[T]) ChangeSize(size int) {
	if size == p.size || !util.InInt(p.sizes, size) {
		return
	}
	first := (p.page - 1) * p.size
	p.size = size
	p.page = first/size + 1
	p.GoToPage(p.page)
}

// Reset replaces the collection and returns to the first page.
func (p *Paginator[T]) Reset(items []T) {
	p.items = items
	p.page = 1
}

// StartIndex returns the 1-based display index of the first visible item, or 1 when the collection is empty.
func (p *Paginator[T]) StartIndex() int {
	if len(p.items) == 0 {
		return 1
	}
	return (p.page-1)*p.size + 1
}

// EndIndex returns the 1-based display index of the last visible item, or 0 when the collection is empty, so the
// empty state reads as "1-0 of 0" rather than a negative range.
func (p *Paginator[T]) EndIndex() int {
	if len(p.items) == 0 {
		return 0
	}
	end := p.page * p.size
	if end > len(p.items) {
		end = len(p.items)
	}
	return end
}

// Range returns a window of up to maxVisible page numbers centered on the current page and clamped to
// [1, TotalPages].
func (p *Paginator[T]) Range(maxVisible int) []int {
	if maxVisible < 1 {
		maxVisible = 1
	}
	total := p.TotalPages()
	start := p.page - maxVisible/2
	if start < 1 {
		start = 1
	}
	end := start + maxVisible - 1
	if end > total {
		end = total
		if start = end - maxVisible + 1; start < 1 {
			start = 1
		}
	}
	pages := make([]int, 0, end-start+1)
	for n := start; n <= end; n++ {
		pages = append(pages, n)
	}
	return pages
}
