package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"

	"splat-viewer/internal/logx"
)

// Input message types sent by WebSocket clients.
const (
	msgMouse byte = 2
	msgTouch byte = 3
	msgLoad  byte = 4
)

// MouseEventType represents the type of mouse event
type MouseEventType uint8

const (
	MouseEventMotion MouseEventType = 0
	MouseEventButton MouseEventType = 1
	MouseEventScroll MouseEventType = 2
)

// MouseEvent is a decoded mouse message:
// [2][eventType:1][x:f32][y:f32][button:u32][pressed:1][scrollDelta:f32].
type MouseEvent struct {
	Type        MouseEventType
	X, Y        float32
	Button      uint32
	Pressed     bool
	ScrollDelta float32
}

// InputHandler receives decoded client input. Methods are called from
// connection goroutines.
type InputHandler interface {
	Mouse(ev MouseEvent)
	// Touch receives the current touch points; an empty slice ends the
	// gesture.
	Touch(points []mgl32.Vec2)
	// LoadURL asks for a scene to be fetched from an http(s) URL.
	LoadURL(url string)
}

var errBadMessage = errors.New("malformed input message")

const mouseMessageSize = 19

// dispatchInput decodes one binary client message and forwards it to h.
func dispatchInput(msg []byte, h InputHandler) error {
	if len(msg) == 0 {
		return errBadMessage
	}
	switch msg[0] {
	case msgMouse:
		if len(msg) < mouseMessageSize {
			return fmt.Errorf("%w: mouse message of %d bytes", errBadMessage, len(msg))
		}
		h.Mouse(MouseEvent{
			Type:        MouseEventType(msg[1]),
			X:           math.Float32frombits(binary.LittleEndian.Uint32(msg[2:6])),
			Y:           math.Float32frombits(binary.LittleEndian.Uint32(msg[6:10])),
			Button:      binary.LittleEndian.Uint32(msg[10:14]),
			Pressed:     msg[14] != 0,
			ScrollDelta: math.Float32frombits(binary.LittleEndian.Uint32(msg[15:19])),
		})
	case msgTouch:
		if len(msg) < 2 {
			return fmt.Errorf("%w: touch message without count", errBadMessage)
		}
		n := int(msg[1])
		if len(msg) < 2+8*n {
			return fmt.Errorf("%w: %d touch points in %d bytes", errBadMessage, n, len(msg))
		}
		points := make([]mgl32.Vec2, n)
		for i := range points {
			p := msg[2+8*i:]
			points[i] = mgl32.Vec2{
				math.Float32frombits(binary.LittleEndian.Uint32(p[0:4])),
				math.Float32frombits(binary.LittleEndian.Uint32(p[4:8])),
			}
		}
		h.Touch(points)
	case msgLoad:
		url := strings.TrimSpace(string(msg[1:]))
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("%w: load request for %q is not an http(s) URL", errBadMessage, url)
		}
		h.LoadURL(url)
	default:
		return fmt.Errorf("%w: unknown type %d", errBadMessage, msg[0])
	}
	return nil
}

// wsClient is one connection with its outgoing frame queue.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebSocketServer manages WebSocket connections for streaming rendered frames
type WebSocketServer struct {
	clients  map[*wsClient]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	input    InputHandler
}

// NewWebSocketServer creates a new WebSocket server instance
func NewWebSocketServer(input InputHandler) *WebSocketServer {
	return &WebSocketServer{
		clients: make(map[*wsClient]bool),
		input:   input,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024 * 1024, // Large buffer for image data
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles incoming WebSocket connections
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Logger().Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, 2)}

	s.mu.Lock()
	s.clients[c] = true
	n := len(s.clients)
	s.mu.Unlock()
	logx.Logger().Info("websocket client connected", "remote", r.RemoteAddr, "clients", n)

	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *WebSocketServer) readLoop(c *wsClient) {
	defer s.remove(c)
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage || s.input == nil {
			continue
		}
		if err := dispatchInput(message, s.input); err != nil {
			logx.Logger().Debug("ignoring client message", "err", err)
		}
	}
}

func (s *WebSocketServer) writeLoop(c *wsClient) {
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
			logx.Logger().Warn("frame send failed", "err", err)
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

func (s *WebSocketServer) remove(c *wsClient) {
	s.mu.Lock()
	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
	}
	n := len(s.clients)
	s.mu.Unlock()
	c.conn.Close()
	logx.Logger().Info("websocket client disconnected", "clients", n)
}

// frameMessage encodes a frame as [width:4][height:4][stride:4][rgba].
func frameMessage(buffer []byte, width, height, stride int) []byte {
	message := make([]byte, 12+len(buffer))
	binary.LittleEndian.PutUint32(message[0:4], uint32(width))
	binary.LittleEndian.PutUint32(message[4:8], uint32(height))
	binary.LittleEndian.PutUint32(message[8:12], uint32(stride))
	copy(message[12:], buffer)
	return message
}

// BroadcastFrame queues a frame for every client. Clients still sending an
// earlier frame skip this one, so the caller never blocks.
func (s *WebSocketServer) BroadcastFrame(buffer []byte, width, height, stride int) {
	if len(buffer) == 0 {
		return
	}
	message := frameMessage(buffer, width, height, stride)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- message:
		default:
		}
	}
}

// CloseAll disconnects every client.
func (s *WebSocketServer) CloseAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients
func (s *WebSocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HTTPServer wraps the HTTP server with static file serving and WebSocket
type HTTPServer struct {
	wsServer  *WebSocketServer
	server    *http.Server
	staticDir string
	listener  net.Listener
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(addr string, staticDir string, input InputHandler) *HTTPServer {
	wsServer := NewWebSocketServer(input)

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	mux.HandleFunc("/ws", wsServer.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &HTTPServer{
		wsServer:  wsServer,
		staticDir: staticDir,
		server: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		},
	}
}

// Start binds the listen address and serves in a goroutine.
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.server.Addr, err)
	}
	h.listener = ln
	log := logx.Logger()
	log.Info("HTTP server started", "addr", ln.Addr().String(), "static", h.staticDir)
	log.Info("frame stream", "url", "ws://"+ln.Addr().String()+"/ws")

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("HTTP server error", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (h *HTTPServer) Addr() string {
	if h.listener == nil {
		return h.server.Addr
	}
	return h.listener.Addr().String()
}

// Stop closes the HTTP server and every connection.
func (h *HTTPServer) Stop() error {
	err := h.server.Close()
	h.wsServer.CloseAll()
	return err
}

// BroadcastFrame forwards a rendered frame to all WebSocket clients
func (h *HTTPServer) BroadcastFrame(buffer []byte, width, height, stride int) {
	h.wsServer.BroadcastFrame(buffer, width, height, stride)
}

// WebSocketClientCount returns the number of connected WebSocket clients
func (h *HTTPServer) WebSocketClientCount() int {
	return h.wsServer.ClientCount()
}
