package tgui

import kit "drillbot/internal/transport"

// Inline builds an inline keyboard row by row.
type Inline struct {
	rows [][]kit.InlineButton
}

func NewInline() *Inline { return &Inline{} }

// Row appends a row; empty rows are ignored.
func (i *Inline) Row(btn ...kit.InlineButton) *Inline {
	if len(btn) > 0 {
		i.rows = append(i.rows, btn)
	}
	return i
}

func (i *Inline) Rows() [][]kit.InlineButton { return i.rows }

// Btn is a callback button.
func Btn(text, data string) kit.InlineButton {
	return kit.InlineButton{Text: text, Data: data}
}

// Confirm is a single yes/no row.
func Confirm(yes, no kit.InlineButton) *Inline {
	return NewInline().Row(yes, no)
}
