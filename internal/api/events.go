package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/akeyanjam/mbss-test/internal/dashboard"
)

// DefaultSnapshotInterval is how often connected dashboards receive a fresh
// active-runs snapshot.
const DefaultSnapshotInterval = 2 * time.Second

// writeTimeout bounds a single websocket write so one dead client cannot
// stall the delivery loop.
const writeTimeout = 5 * time.Second

// event is the websocket message envelope.
type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub computes the active-runs snapshot on a fixed cadence and fans it out
// to every connected websocket. With no subscribers the ticker runs dry —
// no queries are issued.
type Hub struct {
	dash     *dashboard.Service
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[chan []byte]struct{}
	last []byte
}

// NewHub wires an event hub over the dashboard service.
func NewHub(dash *dashboard.Service, logger *slog.Logger) *Hub {
	return &Hub{
		dash:     dash,
		interval: DefaultSnapshotInterval,
		logger:   logger,
		subs:     make(map[chan []byte]struct{}),
	}
}

// Run broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.broadcast(ctx)
		}
	}
}

// broadcast computes one snapshot and delivers it to every subscriber.
// A subscriber that cannot keep up misses snapshots rather than queueing
// them; the next delivery supersedes anything dropped.
func (h *Hub) broadcast(ctx context.Context) {
	h.mu.Lock()
	n := len(h.subs)
	h.mu.Unlock()

	if n == 0 {
		return
	}

	snap, err := h.dash.ActiveRuns(ctx)
	if err != nil {
		h.logger.Warn("events: computing snapshot", slog.Any("error", err))

		return
	}

	payload, err := json.Marshal(event{Type: "activeRuns", Data: snap})
	if err != nil {
		h.logger.Error("events: encoding snapshot", slog.Any("error", err))

		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = payload

	for ch := range h.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

// subscribe registers a new delivery channel, primed with the most recent
// snapshot when one exists.
func (h *Hub) subscribe() chan []byte {
	ch := make(chan []byte, 4)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.last != nil {
		ch <- h.last
	}

	h.subs[ch] = struct{}{}

	return ch
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, ch)
}

func (h *Hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// handleEvents upgrades to a websocket and streams snapshots until the
// client goes away. The connection is write-only; CloseRead surfaces the
// client's close through context cancellation.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("events: websocket accept", slog.Any("error", err))

		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()

			if err != nil {
				return
			}
		}
	}
}
