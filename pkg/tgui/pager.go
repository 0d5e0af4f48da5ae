package tgui

import "fmt"

// Page is one page of a list. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Pages   int
	From    int
	To      int
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate clamps page into range and returns that page of items.
func Paginate[T any](items []T, page, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}
	start := page * size
	end := min(start+size, total)
	return Page[T]{
		Items:   items[start:end],
		Index:   page,
		Pages:   pages,
		From:    start,
		To:      end,
		Total:   total,
		HasPrev: page > 0,
		HasNext: end < total,
	}
}

// Label is e.g. "Стр. 2/5 • 11–20 из 45".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Стр. 1/1"
	}
	return fmt.Sprintf("Стр. %d/%d • %d–%d из %d", p.Index+1, p.Pages, p.From+1, p.To, p.Total)
}
