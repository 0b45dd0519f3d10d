package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ikkim/cartsync/pkg/logger"
)

const (
	// Rate limiting: 최대 메시지 수 (1초당)
	maxMessagesPerSecond = 10

	sendBufferSize = 64
)

// 클라이언트 → 서버 메시지 타입
const (
	TypeAddToCart      = "add_to_cart"
	TypeRemoveFromCart = "remove_from_cart"
	TypeAuth           = "auth"
)

// 서버 → 클라이언트 메시지 타입
const (
	TypeCartSnapshot    = "cart_snapshot"
	TypeCatalogSnapshot = "catalog_snapshot"
	TypeCascadeResult   = "cascade_result"
	TypeError           = "error"
)

// ClientMessage 클라이언트로부터 받은 메시지
type ClientMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id,omitempty"`
	Token     string `json:"token,omitempty"`
}

// ErrorMessage 에러 알림
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CartSnapshotMessage 장바구니 전체 목록
type CartSnapshotMessage struct {
	Type  string      `json:"type"`
	Items interface{} `json:"items"`
	State string      `json:"state"`
}

// CatalogSnapshotMessage 내 상품 목록 (최신순)
type CatalogSnapshotMessage struct {
	Type     string      `json:"type"`
	Products interface{} `json:"products"`
}

// CascadeResultMessage 상품 삭제 후 장바구니 정리 결과
type CascadeResultMessage struct {
	Type    string      `json:"type"`
	Cascade interface{} `json:"cascade"`
}

func NewCartSnapshot(items interface{}, state string) CartSnapshotMessage {
	return CartSnapshotMessage{Type: TypeCartSnapshot, Items: items, State: state}
}

func NewCatalogSnapshot(products interface{}) CatalogSnapshotMessage {
	return CatalogSnapshotMessage{Type: TypeCatalogSnapshot, Products: products}
}

func NewCascadeResult(result interface{}) CascadeResultMessage {
	return CascadeResultMessage{Type: TypeCascadeResult, Cascade: result}
}

// MessageHandler 파싱된 클라이언트 메시지 처리
type MessageHandler func(client *Client, msg ClientMessage)

// Client WebSocket 클라이언트
type Client struct {
	Hub     *Hub
	Conn    *Conn
	Send    chan []byte
	handler MessageHandler

	mu      sync.RWMutex
	userID  string
	closed  bool
	onClose []func()

	messageCount  int       // 최근 1초간 받은 메시지 수
	lastResetTime time.Time // 마지막 카운터 리셋 시간
	rateMu        sync.Mutex
}

func NewClient(hub *Hub, conn *Conn, userID string, handler MessageHandler) *Client {
	return &Client{
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
		handler: handler,
		userID:  userID,
	}
}

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// OnClose 연결 종료 시 실행할 함수 등록
func (c *Client) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *Client) runOnClose() {
	c.mu.Lock()
	fns := c.onClose
	c.onClose = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SendJSON 메시지 직렬화 후 전송. 버퍼가 가득 차면 false
func (c *Client) SendJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("Failed to marshal message", err, map[string]interface{}{
			"user_id": c.UserID(),
		})
		return false
	}
	return c.trySend(data)
}

// SendOrDisconnect 최신 상태를 담은 메시지 전송. 버퍼가 가득 차면 메시지를
// 버리지 않고 연결을 끊어 클라이언트가 재접속하게 함
func (c *Client) SendOrDisconnect(v interface{}) bool {
	if c.SendJSON(v) {
		return true
	}
	if c.isClosed() {
		return false
	}
	logger.Warn("Client send buffer full, disconnecting", map[string]interface{}{
		"user_id": c.UserID(),
	})
	go c.Hub.Unregister(c)
	return false
}

// SendError 에러 메시지 전송
func (c *Client) SendError(message string) {
	c.SendJSON(ErrorMessage{Type: TypeError, Message: message})
}

func (c *Client) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// allow Rate limiting 체크
func (c *Client) allow(now time.Time) bool {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	if now.Sub(c.lastResetTime) >= time.Second {
		c.messageCount = 0
		c.lastResetTime = now
	}
	c.messageCount++
	return c.messageCount <= maxMessagesPerSecond
}

// HandleClientMessage 클라이언트 메시지 처리
func (c *Client) HandleClientMessage(message []byte) {
	if !c.allow(time.Now()) {
		logger.Warn("Rate limit exceeded", map[string]interface{}{
			"user_id": c.UserID(),
		})
		c.SendError("rate limit exceeded")
		return
	}

	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		logger.Warn("Failed to parse client message", map[string]interface{}{
			"user_id": c.UserID(),
			"error":   err.Error(),
		})
		c.SendError("malformed message")
		return
	}

	switch msg.Type {
	case TypeAddToCart, TypeRemoveFromCart:
		if msg.ProductID == "" {
			c.SendError("product_id is required")
			return
		}
	case TypeAuth:
		if msg.Token == "" {
			c.SendError("token is required")
			return
		}
	default:
		c.SendError("unknown message type")
		return
	}

	if c.handler != nil {
		c.handler(c, msg)
	}
}
