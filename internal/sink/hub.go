package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/gatt"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/hrm"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	clientQueueSize = 32
	writeTimeout    = 5 * time.Second
)

// Message is the JSON document pushed to dashboard clients.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`

	Address  string  `json:"address,omitempty"`
	State    string  `json:"state,omitempty"`
	Name     string  `json:"name,omitempty"`
	Field    string  `json:"field,omitempty"`
	Text     string  `json:"text,omitempty"`
	Location string  `json:"location,omitempty"`
	BPM      *uint16 `json:"bpm,omitempty"`
	Percent  *uint8  `json:"percent,omitempty"`
}

// Hub broadcasts events to websocket clients. Clients that connect late first receive the
// latest message of each type.
type Hub struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	latest  *orderedmap.OrderedMap[string, []byte]
}

var _ hrm.EventSink = (*Hub)(nil)

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now:     time.Now,
		clients: make(map[*hubClient]struct{}),
		latest:  orderedmap.New[string, []byte](),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ListenAndServe serves the hub at /ws on addr until ctx is cancelled.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	groutine.Go(ctx, "ws-listen", func(context.Context) {
		h.logger.WithField("addr", addr).Info("Websocket hub listening")
		errCh <- server.ListenAndServe()
	})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	h.closeClients()
	return nil
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithField("error", err).Warn("Websocket upgrade failed")
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, clientQueueSize)}
	h.mu.Lock()
	for pair := h.latest.Oldest(); pair != nil; pair = pair.Next() {
		c.send <- pair.Value
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.WithField("remote", conn.RemoteAddr().String()).Info("Websocket client connected")

	groutine.Go(r.Context(), "ws-writer", func(context.Context) { h.writeLoop(c) })

	// Client messages are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(c)
	h.logger.WithField("remote", conn.RemoteAddr().String()).Info("Websocket client disconnected")
}

func (h *Hub) writeLoop(c *hubClient) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// drop unregisters c and closes its queue, which ends the writer.
func (h *Hub) drop(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeClients() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
}

func (h *Hub) broadcast(msg Message) {
	msg.Timestamp = h.now()
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to encode websocket message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest.Set(msg.Type+"/"+msg.Field, data)
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.WithField("remote", c.conn.RemoteAddr().String()).Warn("Dropping slow websocket client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) OnDeviceName(name string) {
	h.broadcast(Message{Type: "device_name", Name: name})
}

func (h *Hub) OnDeviceInfo(field gatt.Role, text string) {
	h.broadcast(Message{Type: "device_info", Field: field.String(), Text: text})
}

func (h *Hub) OnBatteryLevel(percent uint8) {
	h.broadcast(Message{Type: "battery", Percent: &percent})
}

func (h *Hub) OnHeartRate(bpm uint16) {
	h.broadcast(Message{Type: "heart_rate", BPM: &bpm})
}

func (h *Hub) OnBodyLocation(location gatt.BodySensorLocation) {
	h.broadcast(Message{Type: "body_location", Location: location.String()})
}

func (h *Hub) OnAdapterWarning(kind hrm.AdapterState, deviceModel string) {
	h.broadcast(Message{Type: "adapter_warning", State: kind.String(), Text: AdapterWarning(kind, deviceModel)})
}

func (h *Hub) OnSessionState(addr string, state hrm.SessionState) {
	h.broadcast(Message{Type: "session", Address: addr, State: state.String()})
}
