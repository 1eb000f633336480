package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/sundialhq/sundial/pkg/types"
)

// DeliveryMessage is the payload pushed to a thread's websocket listeners
// when a scheduled task fires.
type DeliveryMessage struct {
	Type     string `json:"type"` // "reminder" or "wakeup"
	TaskID   string `json:"task_id"`
	ThreadID string `json:"thread_id"`
	Payload  string `json:"payload"`
	DueAt    string `json:"due_at"`
}

// clientConn allows both real websocket clients and test doubles.
type clientConn interface {
	sendChannel() chan []byte
	shutdown()
}

// DeliveryHub manages websocket listeners keyed by thread and delivers fired
// tasks to them. It implements the scheduler's Deliverer: a delivery with no
// connected listener for the thread is an error, which the scheduler reports
// to the operator channel.
type DeliveryHub struct {
	mu      sync.RWMutex
	clients map[clientConn]string // conn -> thread ID

	register   chan registration
	unregister chan clientConn
	ctx        context.Context
	cancel     context.CancelFunc
}

type registration struct {
	client   clientConn
	threadID string
}

// NewDeliveryHub creates a hub. Call Run in a goroutine before serving.
func NewDeliveryHub() *DeliveryHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &DeliveryHub{
		clients:    make(map[clientConn]string),
		register:   make(chan registration),
		unregister: make(chan clientConn),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes client registration until Stop is called.
func (h *DeliveryHub) Run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client] = reg.threadID
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("websocket listener connected for thread %s (total: %d)", reg.threadID, count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.sendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("websocket listener disconnected (total: %d)", count)

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts down the hub and closes all client connections.
func (h *DeliveryHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.sendChannel())
		client.shutdown()
	}
	h.clients = make(map[clientConn]string)
	h.mu.Unlock()
}

// Deliver pushes a fired task to every listener of its thread. Returns an
// error when the thread has no connected listener; the task is not retried.
func (h *DeliveryHub) Deliver(_ context.Context, task *types.ReminderTask) error {
	msg := DeliveryMessage{
		Type:     "reminder",
		TaskID:   task.ID,
		ThreadID: task.ThreadID,
		Payload:  task.Payload,
		DueAt:    task.DueAt.Format(time.RFC3339),
	}
	if task.Kind == types.KindSelfWakeup {
		msg.Type = "wakeup"
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("handlers: failed to marshal delivery: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for client, threadID := range h.clients {
		if threadID != task.ThreadID {
			continue
		}
		select {
		case client.sendChannel() <- data:
			delivered++
		default:
			// Listener too slow; drop it.
			close(client.sendChannel())
			delete(h.clients, client)
		}
	}
	if delivered == 0 {
		return fmt.Errorf("handlers: no listener for thread %s", task.ThreadID)
	}
	return nil
}

// wsClient is a real websocket connection.
type wsClient struct {
	hub  *DeliveryHub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) sendChannel() chan []byte { return c.send }

func (c *wsClient) shutdown() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// ServeHTTP handles GET /ws?thread_id= upgrade requests.
func (h *DeliveryHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		http.Error(w, "thread_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.register <- registration{client: client, threadID: threadID}

	go client.writePump()
	go client.readPump()
}

// writePump sends queued deliveries to the websocket connection.
func (c *wsClient) writePump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			log.Printf("websocket write failed: %v", err)
			return
		}
	}
}

// readPump drains the connection to detect disconnects.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}
