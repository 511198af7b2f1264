package history

import (
	"sync"

	"uk.co.dudmesh.helpline/internal/model"
)

// Watcher folds two independently updating snapshots, a party's messages and
// the responses addressed to them, into a History. Every update to either
// side re-emits the full History.
type Watcher struct {
	mu        sync.Mutex
	messages  []model.Message
	responses []model.Response
	emit      func(History)
}

func NewWatcher(emit func(History)) *Watcher {
	return &Watcher{emit: emit}
}

func (w *Watcher) SetMessages(messages []model.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append([]model.Message(nil), messages...)
	w.emit(Build(w.messages, w.responses))
}

func (w *Watcher) SetResponses(responses []model.Response) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.responses = append([]model.Response(nil), responses...)
	w.emit(Build(w.messages, w.responses))
}

// Current returns the History for the latest snapshots without emitting.
func (w *Watcher) Current() History {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Build(w.messages, w.responses)
}
