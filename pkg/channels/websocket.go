// Package channels hosts the human-facing gateways. The only built-in
// gateway is a WebSocket server speaking the JSON chat protocol: clients
// log in, send user messages, answer confirmation requests, and receive
// assistant output, redacted tool calls, and tool results.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aapchat/aapchat/pkg/bus"
	"github.com/aapchat/aapchat/pkg/config"
	"github.com/aapchat/aapchat/pkg/logger"
	"github.com/aapchat/aapchat/pkg/session"
)

// LoginFunc authenticates a username/password against the controller and
// returns a session token. Wired to the AAP client plus the session store.
type LoginFunc func(ctx context.Context, username, password string) (string, error)

// wsFrame is the wire format in both directions. Which fields are set
// depends on Type.
type wsFrame struct {
	Type      string         `json:"type"`
	Content   string         `json:"content,omitempty"`
	Name      string         `json:"name,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Result    string         `json:"result,omitempty"`
	Username  string         `json:"username,omitempty"`
	Password  string         `json:"password,omitempty"`
	Success   bool           `json:"success,omitempty"`
}

// Inbound frame types beyond the bus kinds.
const frameLogin = "login"

const frameLoginResult = "login_result"

const authRequiredNotice = "Authentication required. Please login again."

// wsClient is one connected conversation.
type wsClient struct {
	conn         *websocket.Conn
	sessionToken string
	writeMu      sync.Mutex
	mu           sync.Mutex
}

func (c *wsClient) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

func (c *wsClient) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionToken = token
}

func (c *wsClient) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// WebSocketChannel serves the chat protocol. Each connection gets its own
// chat id; conversations never share state, while the session store and the
// bus are process-wide.
type WebSocketChannel struct {
	config   config.WebSocketConfig
	bus      *bus.MessageBus
	store    *session.Store
	login    LoginFunc
	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient // chatID -> client
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWebSocketChannel(cfg config.WebSocketConfig, msgBus *bus.MessageBus, store *session.Store, login LoginFunc) *WebSocketChannel {
	return &WebSocketChannel{
		config: cfg,
		bus:    msgBus,
		store:  store,
		login:  login,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
	}
}

func (c *WebSocketChannel) Name() string { return "websocket" }

func (c *WebSocketChannel) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(c.config.Path, c.handleWS)

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	c.server = &http.Server{Addr: addr, Handler: mux}

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	logger.InfoCF("websocket", "WebSocket server listening", map[string]any{
		"host": c.config.Host,
		"port": c.config.Port,
		"path": c.config.Path,
	})

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("websocket", "Server error", map[string]any{"error": err.Error()})
		}
	}()

	return nil
}

func (c *WebSocketChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.running = false
	for chatID, client := range c.clients {
		logger.DebugCF("websocket", "Closing client connection", map[string]any{"chat_id": chatID})
		client.conn.Close()
	}
	c.clients = make(map[string]*wsClient)
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// Send routes one outbound protocol event to its connection.
func (c *WebSocketChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.RLock()
	client, ok := c.clients[msg.ChatID]
	running := c.running
	c.mu.RUnlock()

	if !running {
		return fmt.Errorf("websocket channel not running")
	}
	if !ok {
		return fmt.Errorf("no connection for chat %s", msg.ChatID)
	}

	frame := wsFrame{
		Type:      msg.Kind,
		Content:   msg.Content,
		Name:      msg.Name,
		Args:      msg.Args,
		MessageID: msg.MessageID,
		ToolName:  msg.ToolName,
		Result:    msg.Result,
	}
	if err := client.writeJSON(frame); err != nil {
		logger.ErrorCF("websocket", "Failed to send message", map[string]any{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
		return err
	}
	return nil
}

func (c *WebSocketChannel) handleWS(w http.ResponseWriter, r *http.Request) {
	if c.config.APIKey != "" && r.Header.Get("X-API-Key") != c.config.APIKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("websocket", "Upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	chatID := uuid.NewString()
	client := &wsClient{conn: conn}

	c.mu.Lock()
	c.clients[chatID] = client
	c.mu.Unlock()

	logger.InfoCF("websocket", "New WebSocket connection", map[string]any{
		"chat_id":     chatID,
		"remote_addr": r.RemoteAddr,
	})

	go c.readPump(client, chatID)
}

func (c *WebSocketChannel) readPump(client *wsClient, chatID string) {
	defer func() {
		c.mu.Lock()
		delete(c.clients, chatID)
		c.mu.Unlock()
		client.conn.Close()

		logger.InfoCF("websocket", "Client disconnected", map[string]any{"chat_id": chatID})
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.ErrorCF("websocket", "Read error", map[string]any{
					"chat_id": chatID,
					"error":   err.Error(),
				})
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.ErrorCF("websocket", "Invalid JSON message", map[string]any{
				"chat_id": chatID,
				"error":   err.Error(),
			})
			continue
		}

		switch frame.Type {
		case frameLogin:
			c.handleLogin(client, frame)

		case bus.InboundUserMessage:
			// A session that expired mid-conversation forces a fresh
			// login; the connection closes so the client re-authenticates.
			token := client.token()
			if c.store != nil {
				if _, err := c.store.Get(token); err != nil {
					_ = client.writeJSON(wsFrame{Type: bus.OutboundError, Content: authRequiredNotice})
					return
				}
			}
			c.bus.PublishInbound(bus.InboundMessage{
				Channel:    c.Name(),
				ChatID:     chatID,
				Kind:       bus.InboundUserMessage,
				Content:    frame.Content,
				SessionKey: token,
			})

		case bus.InboundConfirmationResponse:
			c.bus.PublishInbound(bus.InboundMessage{
				Channel: c.Name(),
				ChatID:  chatID,
				Kind:    bus.InboundConfirmationResponse,
				Content: frame.Content,
			})

		default:
			logger.DebugCF("websocket", "Ignoring unknown frame type", map[string]any{
				"chat_id": chatID,
				"type":    frame.Type,
			})
		}
	}
}

func (c *WebSocketChannel) handleLogin(client *wsClient, frame wsFrame) {
	if c.login == nil {
		_ = client.writeJSON(wsFrame{Type: frameLoginResult, Success: false, Content: "login is not configured"})
		return
	}

	token, err := c.login(c.ctx, frame.Username, frame.Password)
	if err != nil {
		logger.WarnCF("websocket", "Login failed", map[string]any{
			"username": frame.Username,
			"error":    err.Error(),
		})
		_ = client.writeJSON(wsFrame{Type: frameLoginResult, Success: false, Content: "Invalid credentials. Please check your username and password."})
		return
	}

	client.setToken(token)
	logger.InfoCF("websocket", "Login succeeded", map[string]any{"username": frame.Username})
	_ = client.writeJSON(wsFrame{Type: frameLoginResult, Success: true, Content: "Login successful."})
}
