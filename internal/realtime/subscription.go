package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Query narrows what a subscription reports.
type Query struct {
	Fields []string       `json:"fields,omitempty"`
	Filter map[string]any `json:"filter,omitempty"`
}

// Event is one change pushed by the backend.
type Event struct {
	Collection string          `json:"collection"`
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// IDs returns the keys of the records the event touched. Create and update
// events carry records; delete events carry bare keys.
func (e Event) IDs() []string {
	var raw []any
	dec := json.NewDecoder(bytes.NewReader(e.Data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil
	}

	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if record, ok := v.(map[string]any); ok {
			v = record["id"]
		}
		if v != nil {
			ids = append(ids, fmt.Sprint(v))
		}
	}
	return ids
}

type message struct {
	Type        string          `json:"type"`
	Status      string          `json:"status,omitempty"`
	Event       string          `json:"event,omitempty"`
	UID         string          `json:"uid,omitempty"`
	Collection  string          `json:"collection,omitempty"`
	Query       *Query          `json:"query,omitempty"`
	AccessToken string          `json:"access_token,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Subscription delivers the events of one collection/event pair.
type Subscription struct {
	uid        string
	collection string
	event      string
	query      *Query
	client     *Client

	mu     sync.Mutex
	ended  bool
	events chan Event
	done   chan struct{}
}

func (s *Subscription) Collection() string { return s.collection }
func (s *Subscription) Event() string      { return s.event }

// Events yields changes until the subscription ends, then is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe ends the subscription. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() error {
	if !s.client.remove(s.uid) {
		return nil
	}
	s.end()

	conn := s.client.current()
	if conn == nil {
		return nil
	}
	return s.client.write(conn, message{Type: "unsubscribe", UID: s.uid})
}

func (s *Subscription) subscribeMessage() message {
	return message{
		Type:       "subscribe",
		Collection: s.collection,
		Event:      s.event,
		Query:      s.query,
		UID:        s.uid,
	}
}

// deliver never blocks; it reports false when the buffer is full.
func (s *Subscription) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return true
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	close(s.events)
	close(s.done)
}

// Merge fans the events of several subscriptions into one channel, closed
// once all of them have ended.
func Merge(subs ...*Subscription) <-chan Event {
	out := make(chan Event, eventBuffer)

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			for ev := range sub.Events() {
				select {
				case out <- ev:
				case <-sub.Done():
					return
				}
			}
		}(sub)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
