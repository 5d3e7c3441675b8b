package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventKind mirrors the server's event taxonomy.
type EventKind string

const (
	EventInstanceSpawned    EventKind = "instance-spawned"
	EventInstanceTerminated EventKind = "instance-terminated"
	EventTaskSubmitted      EventKind = "task-submitted"
	EventTaskReady          EventKind = "task-ready"
	EventTaskStarted        EventKind = "task-started"
	EventTaskCompleted      EventKind = "task-completed"
	EventTaskCancelled      EventKind = "task-cancelled"
	EventWorkflowCompleted  EventKind = "workflow-completed"
)

// Event is a single occurrence received over the event stream.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// WebSocketClient maintains one /ws/stream connection and fans received
// events into a buffered channel, matching the server's own drop-oldest
// policy on the client's receive side.
type WebSocketClient struct {
	conn      *websocket.Conn
	baseURL   string
	headers   map[string]string
	events    chan *Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	connected bool
	filter    map[EventKind]bool
}

func newWebSocketClient(baseURL string, headers map[string]string) *WebSocketClient {
	return &WebSocketClient{
		baseURL: baseURL,
		headers: headers,
		events:  make(chan *Event, 256),
		done:    make(chan struct{}),
	}
}

// Connect dials the server's /ws/stream endpoint.
func (ws *WebSocketClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.connected {
		return nil
	}

	u, err := url.Parse(ws.baseURL)
	if err != nil {
		return fmt.Errorf("client: invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/stream"

	header := make(map[string][]string, len(ws.headers))
	for k, v := range ws.headers {
		header[k] = []string{v}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("client: websocket dial failed: %w", err)
	}

	ws.conn = conn
	ws.connected = true
	ws.done = make(chan struct{})

	go ws.readLoop()
	return nil
}

func (ws *WebSocketClient) readLoop() {
	defer func() {
		ws.mu.Lock()
		ws.connected = false
		ws.mu.Unlock()
		close(ws.events)
	}()

	for {
		select {
		case <-ws.done:
			return
		default:
		}

		_, message, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}

		var evt Event
		if err := json.Unmarshal(message, &evt); err != nil {
			continue
		}

		if !ws.accepts(evt.Kind) {
			continue
		}

		select {
		case ws.events <- &evt:
		case <-ws.done:
			return
		default:
			select {
			case <-ws.events:
			default:
			}
			select {
			case ws.events <- &evt:
			default:
			}
		}
	}
}

// Subscribe narrows Events() to the given kinds and sends the same filter
// to the server as the initial {subscribe: [...]} message the spec
// describes. The server streams every event regardless of what a client
// sends, so the filter is enforced here, client-side, on delivery.
func (ws *WebSocketClient) Subscribe(kinds ...EventKind) error {
	ws.mu.Lock()
	if len(kinds) == 0 {
		ws.filter = nil
	} else {
		f := make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			f[k] = true
		}
		ws.filter = f
	}
	connected, conn := ws.connected, ws.conn
	ws.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("client: websocket not connected")
	}
	return conn.WriteJSON(map[string]interface{}{"subscribe": kinds})
}

// accepts reports whether evt passes the current subscription filter.
func (ws *WebSocketClient) accepts(k EventKind) bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	if ws.filter == nil {
		return true
	}
	return ws.filter[k]
}

// Events returns the channel of received events.
func (ws *WebSocketClient) Events() <-chan *Event {
	return ws.events
}

// IsConnected reports whether the WebSocket connection is currently live.
func (ws *WebSocketClient) IsConnected() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.connected
}

// Close closes the WebSocket connection.
func (ws *WebSocketClient) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		ws.mu.Lock()
		defer ws.mu.Unlock()
		if ws.conn != nil {
			_ = ws.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			err = ws.conn.Close()
		}
	})
	return err
}
