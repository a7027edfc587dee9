package processing

import "sync"

// Event is one progress update on a job's stream.
type Event struct {
	Percent int
	Stage   string
	Message string
}

// hub fans progress events out to subscribers. Published percentages are
// clamped so consumers always observe a non-decreasing sequence.
type hub struct {
	mu          sync.Mutex
	subscribers []chan Event
	last        Event
	closed      bool
}

func newHub() *hub {
	return &hub{}
}

// subscribe registers a consumer. The latest event is replayed immediately
// so late subscribers see current progress.
func (h *hub) subscribe() <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 32)
	if h.last.Stage != "" {
		ch <- h.last
	}
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers = append(h.subscribers, ch)
	return ch
}

func (h *hub) publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if event.Percent < h.last.Percent {
		event.Percent = h.last.Percent
	}
	h.last = event
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Slow consumer; drop rather than block the pipeline.
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = nil
}
