// Package debugserver exposes a live operation feed for interactive
// debugging of a running Factory, per SPEC_FULL.md's domain stack section:
// a JSON snapshot at /stats and a websocket stream of completed-operation
// events at /stream.
package debugserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/xrdhttp/curlfs/pkg/httpfs"
)

// Event is one completed-operation record broadcast to stream subscribers.
type Event struct {
	Verb      string        `json:"verb"`
	Succeeded bool          `json:"succeeded"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	At        time.Time     `json:"at"`
}

// Snapshot is the /stats response body.
type Snapshot struct {
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	QueueDepth int32 `json:"queue_depth"`
	InFlight   int32 `json:"in_flight"`
}

// Hub implements httpfs.WorkerMetrics, so it can be wired into a Factory
// directly alongside (or instead of) Prometheus metrics, while also
// fanning out a live event stream to connected debug clients.
type Hub struct {
	started, succeeded, failed int64
	queueDepth, inFlight       int32

	mu   sync.Mutex
	subs map[chan Event]struct{}

	upgrader websocket.Upgrader
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs:     make(map[chan Event]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (h *Hub) OperationStarted(verb string) {
	atomic.AddInt64(&h.started, 1)
}

func (h *Hub) OperationSucceeded(verb string, duration time.Duration) {
	atomic.AddInt64(&h.succeeded, 1)
	h.broadcast(Event{Verb: verb, Succeeded: true, Duration: duration, At: time.Now()})
}

func (h *Hub) OperationFailed(verb string, kind httpfs.ErrorKind) {
	atomic.AddInt64(&h.failed, 1)
	h.broadcast(Event{Verb: verb, Succeeded: false, ErrorKind: kind.String(), At: time.Now()})
}

func (h *Hub) QueueDepth(n int) { atomic.StoreInt32(&h.queueDepth, int32(n)) }
func (h *Hub) InFlight(n int)   { atomic.StoreInt32(&h.inFlight, int32(n)) }

func (h *Hub) broadcast(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber; drop the event rather than block operations.
		}
	}
}

func (h *Hub) subscribe() chan Event {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) snapshot() Snapshot {
	return Snapshot{
		Started:    atomic.LoadInt64(&h.started),
		Succeeded:  atomic.LoadInt64(&h.succeeded),
		Failed:     atomic.LoadInt64(&h.failed),
		QueueDepth: atomic.LoadInt32(&h.queueDepth),
		InFlight:   atomic.LoadInt32(&h.inFlight),
	}
}

// Router builds the gorilla/mux router serving /stats and /stream.
func (h *Hub) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/stream", h.handleStream)
	return r
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.snapshot())
}

func (h *Hub) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	for e := range ch {
		if err := conn.WriteJSON(e); err != nil {
			return
		}
	}
}

// ListenAndServe starts an HTTP server on addr serving this Hub's router in
// a background goroutine and returns the *http.Server at once; the caller
// stops it with Shutdown/Close. The server's own return error is discarded.
func ListenAndServe(addr string, h *Hub) *http.Server {
	srv := &http.Server{Addr: addr, Handler: h.Router()}
	go srv.ListenAndServe()
	return srv
}
