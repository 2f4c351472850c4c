// Package adapter owns the displayed message list: it diffs each new list
// against the current one, classifies rows and lays them out for a view.
package adapter

import (
	"sync"

	"chatline/internal/imageload"
	"chatline/internal/message"
)

// Images reports image load progress without blocking.
type Images interface {
	Status(url string) imageload.Status
}

// Rendered is one row laid out for a view.
type Rendered struct {
	Kind   message.Kind
	Own    bool
	Avatar string
	// text rows
	Lines []string
	Time  string
	// image rows
	ImageURL    string
	ImageStatus imageload.Status
}

type Adapter struct {
	userID string
	images Images

	mu       sync.RWMutex
	items    []message.Message
	observer func(ops []Op, n int)
}

func New(currentUserID string, images Images) *Adapter {
	return &Adapter{userID: currentUserID, images: images}
}

// Observe registers f to be called after every Submit that changed the list.
func (a *Adapter) Observe(f func(ops []Op, n int)) {
	a.mu.Lock()
	a.observer = f
	a.mu.Unlock()
}

// Submit replaces the list and returns the edit script that led there.
func (a *Adapter) Submit(list []message.Message) []Op {
	a.mu.Lock()
	ops := Diff(a.items, list)
	a.items = append([]message.Message(nil), list...)
	n, obs := len(a.items), a.observer
	a.mu.Unlock()

	if obs != nil && len(ops) > 0 {
		obs(ops, n)
	}
	return ops
}

func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}

func (a *Adapter) Messages() []message.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]message.Message(nil), a.items...)
}

func (a *Adapter) Row(i int) (message.Row, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= len(a.items) {
		return nil, false
	}
	return message.ToRow(a.items[i], a.userID), true
}

func (a *Adapter) Rows() []message.Row {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rows := make([]message.Row, len(a.items))
	for i, m := range a.items {
		rows[i] = message.ToRow(m, a.userID)
	}
	return rows
}

// LongPress turns a press on an own row into a delete request. Rows of
// other users, and out of range indexes, give false.
func (a *Adapter) LongPress(i int) (message.DeleteRequest, bool) {
	row, ok := a.Row(i)
	if !ok {
		return message.DeleteRequest{}, false
	}
	switch r := row.(type) {
	case message.OwnTextRow:
		return message.DeleteRequest{ID: r.ID}, r.ID != ""
	case message.OwnImageRow:
		return message.DeleteRequest{ID: r.ID, ImageURL: r.ImageURL}, r.ID != ""
	default:
		return message.DeleteRequest{}, false
	}
}

// Render lays row i out for a view viewWidth cells wide.
func (a *Adapter) Render(i, viewWidth int) (Rendered, bool) {
	row, ok := a.Row(i)
	if !ok {
		return Rendered{}, false
	}
	out := Rendered{Kind: row.Kind(), Avatar: row.Avatar()}
	switch r := row.(type) {
	case message.OwnTextRow:
		out.Own, out.Lines, out.Time = true, Fit(r.Text, viewWidth), r.Time
	case message.OtherTextRow:
		out.Lines, out.Time = Fit(r.Text, viewWidth), r.Time
	case message.OwnImageRow:
		out.Own, out.ImageURL = true, r.ImageURL
		out.ImageStatus = a.imageStatus(r.ImageURL)
	case message.OtherImageRow:
		out.ImageURL = r.ImageURL
		out.ImageStatus = a.imageStatus(r.ImageURL)
	}
	return out, true
}

func (a *Adapter) imageStatus(url string) imageload.Status {
	if a.images == nil {
		return imageload.Loading
	}
	return a.images.Status(url)
}
