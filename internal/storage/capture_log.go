package storage

import (
	"sync"

	"github.com/BetterCallFirewall/postcap/internal/models"
)

// CaptureLog keeps every capture of the current run in memory, in
// arrival order, for the viewer API and the live feed. It is not the
// persistence layer; only the collection file survives a restart.
type CaptureLog struct {
	mu      sync.RWMutex
	entries []models.ObservedRequest
	index   map[string]int
}

func NewCaptureLog() *CaptureLog {
	return &CaptureLog{
		index: make(map[string]int),
	}
}

func (l *CaptureLog) Add(req models.ObservedRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index[req.ID] = len(l.entries)
	l.entries = append(l.entries, req)
}

func (l *CaptureLog) Get(id string) (models.ObservedRequest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	at, ok := l.index[id]
	if !ok {
		return models.ObservedRequest{}, false
	}
	return l.entries[at], true
}

// All returns the captures in arrival order.
func (l *CaptureLog) All() []models.ObservedRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.ObservedRequest, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *CaptureLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
