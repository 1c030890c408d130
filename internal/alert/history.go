package alert

import "github.com/pulsewatch/internal/models"

// history is a fixed-size ring of alerts, oldest evicted first. Entries are
// shared with the active set so resolving an alert updates it in place.
type history struct {
	buf   []*models.Alert
	start int
	size  int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]*models.Alert, capacity)}
}

func (h *history) push(a *models.Alert) {
	if len(h.buf) == 0 {
		return
	}
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = a
		h.size++
		return
	}
	h.buf[h.start] = a
	h.start = (h.start + 1) % len(h.buf)
}

// last returns copies of the newest n entries in chronological order; n <= 0
// returns everything.
func (h *history) last(n int) []models.Alert {
	if n <= 0 || n > h.size {
		n = h.size
	}
	out := make([]models.Alert, 0, n)
	for i := h.size - n; i < h.size; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)].Clone())
	}
	return out
}

func (h *history) reset() {
	for i := range h.buf {
		h.buf[i] = nil
	}
	h.start, h.size = 0, 0
}
