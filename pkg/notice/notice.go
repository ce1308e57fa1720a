// Package notice holds the dismissible messages shown to the user when an
// action they took failed.
package notice

import (
	"sync"
	"time"

	"github.com/rubiojr/wayplan/pkg/planerr"
)

// Notice is one dismissible message.
type Notice struct {
	ID      int       `json:"id"`
	Action  string    `json:"action"`
	Message string    `json:"message"`
	Created time.Time `json:"created"`
}

// Board collects notices until they are dismissed. Safe for concurrent use.
type Board struct {
	mu      sync.Mutex
	seq     int
	limit   int
	notices []Notice
}

// NewBoard keeps at most limit notices, dropping the oldest.
func NewBoard(limit int) *Board {
	if limit <= 0 {
		limit = 20
	}
	return &Board{limit: limit}
}

// Push adds a notice for action and returns its id.
func (b *Board) Push(action, message string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.notices = append(b.notices, Notice{
		ID:      b.seq,
		Action:  action,
		Message: message,
		Created: time.Now(),
	})
	if len(b.notices) > b.limit {
		b.notices = b.notices[len(b.notices)-b.limit:]
	}
	return b.seq
}

// Report pushes err if it is user-facing and returns whether it did.
func (b *Board) Report(action string, err error) bool {
	if err == nil || !planerr.UserFacing(err) {
		return false
	}
	b.Push(action, planerr.Message(err))
	return true
}

// Dismiss removes the notice with id. Unknown ids are ignored.
func (b *Board) Dismiss(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, n := range b.notices {
		if n.ID == id {
			b.notices = append(b.notices[:i], b.notices[i+1:]...)
			return true
		}
	}
	return false
}

// List returns the pending notices, oldest first.
func (b *Board) List() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Notice, len(b.notices))
	copy(out, b.notices)
	return out
}
