// Package sse implements a Server-Sent Events broker for run and source
// change notifications.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/starford/railguard/internal/pipeline"
)

// Event types.
const (
	EventSourceChanged = "source.changed"
	EventRunCompleted  = "run.completed"
	EventRunFailed     = "run.failed"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// RunSummary is the payload of run.completed and run.failed events.
type RunSummary struct {
	RunID   string `json:"run_id"`
	Root    string `json:"root"`
	Output  string `json:"output,omitempty"`
	Classes int    `json:"classes"`
	Written int    `json:"written"`
	Error   string `json:"error,omitempty"`
}

// Broker fans run and source-change events out to SSE clients.
//
// A single goroutine owns the client set, the last run event and the pending
// change paths; public methods talk to it over channels. Change paths that
// arrive inside the throttle window are merged into one source.changed event
// sent when the window ends. The most recent run event is replayed to every
// new subscriber.
type Broker struct {
	changeMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	changeCh      chan []string
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. source.changed events are sent at most
// once per changeThrottle.
func NewBroker(changeThrottle time.Duration) *Broker {
	if changeThrottle <= 0 {
		changeThrottle = 2 * time.Second
	}

	b := &Broker{
		changeMin:     changeThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan []string, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
}

func send(ch chan []byte, raw []byte) {
	select {
	case ch <- raw:
	default:
		// Client buffer full; drop rather than stall the loop.
	}
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastRun []byte

	pending := make(map[string]struct{})
	var lastChange time.Time
	var flush *time.Timer
	var flushCh <-chan time.Time

	broadcast := func(event Event) []byte {
		raw, err := encode(event)
		if err != nil {
			return nil
		}
		for ch := range clients {
			send(ch, raw)
		}
		return raw
	}

	flushChanges := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		clear(pending)
		lastChange = time.Now()
		broadcast(Event{Type: EventSourceChanged, Data: map[string][]string{"paths": paths}})
	}

	for {
		select {
		case <-b.stopCh:
			if flush != nil {
				flush.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			if lastRun != nil {
				send(ch, lastRun)
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			raw := broadcast(event)
			if raw != nil && (event.Type == EventRunCompleted || event.Type == EventRunFailed) {
				lastRun = raw
			}

		case paths := <-b.changeCh:
			for _, p := range paths {
				pending[p] = struct{}{}
			}
			if wait := b.changeMin - time.Since(lastChange); wait > 0 {
				if flushCh == nil {
					flush = time.NewTimer(wait)
					flushCh = flush.C
				}
				continue
			}
			flushChanges()

		case <-flushCh:
			flushCh = nil
			flushChanges()

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishChange queues paths for the next source.changed event.
func (b *Broker) PublishChange(paths []string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- paths:
	case <-b.stopped:
	}
}

// PublishRun publishes run.completed or run.failed for a finished run.
func (b *Broker) PublishRun(res *pipeline.Result) {
	summary := RunSummary{
		RunID:   res.RunID,
		Root:    res.Root,
		Output:  res.Output,
		Written: len(res.Written),
		Error:   res.Error,
	}
	if res.Classes != nil {
		summary.Classes = res.Classes.Len()
	}
	kind := EventRunCompleted
	if res.Status == pipeline.StatusFailed {
		kind = EventRunFailed
	}
	b.Publish(Event{Type: kind, Data: summary})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
