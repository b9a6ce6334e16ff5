package main

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	VariantDefault     = "default"
	VariantDestructive = "destructive"
)

// Notification is a user facing message about an action's progress.
type Notification struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Variant     string    `json:"variant"`
	Time        time.Time `json:"time"`
}

// Notifier keeps the most recent notifications in a bounded ring.
type Notifier struct {
	mu    sync.Mutex
	items []Notification
	next  int
	full  bool
}

func NewNotifier(limit int) *Notifier {
	if limit <= 0 {
		limit = 1
	}
	return &Notifier{items: make([]Notification, limit)}
}

func (n *Notifier) Push(title, description, variant string) {
	item := Notification{Title: title, Description: description, Variant: variant, Time: time.Now()}
	if variant == VariantDestructive {
		Log.Warn(title, zap.String("description", description))
	} else {
		Log.Info(title, zap.String("description", description))
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.items[n.next] = item
	n.next = (n.next + 1) % len(n.items)
	if n.next == 0 {
		n.full = true
	}
}

// List returns notifications oldest first.
func (n *Notifier) List() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.full {
		return append([]Notification(nil), n.items[:n.next]...)
	}
	out := make([]Notification, 0, len(n.items))
	out = append(out, n.items[n.next:]...)
	return append(out, n.items[:n.next]...)
}
