package websocket

import (
	"encoding/json"
	"sync"

	"github.com/ikkim/cartsync/pkg/logger"
)

// Hub WebSocket 연결 관리자
type Hub struct {
	// 사용자별 클라이언트 (UserID -> []*Client, 멀티 디바이스 지원)
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client
	rebind     chan rebindRequest
	broadcast  chan *BroadcastMessage
	stop       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex
}

// BroadcastMessage 특정 사용자의 모든 세션으로 보낼 메시지
type BroadcastMessage struct {
	UserID  string
	Message []byte
}

type rebindRequest struct {
	client *Client
	userID string
	done   chan struct{}
}

// NewHub Hub 생성
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string][]*Client),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		rebind:     make(chan rebindRequest),
		broadcast:  make(chan *BroadcastMessage, 1024),
		stop:       make(chan struct{}),
	}
}

// Run Hub 실행. Stop 호출 시 모든 연결을 닫고 반환
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID()] = append(h.clients[client.UserID()], client)
			total := len(h.clients[client.UserID()])
			h.mu.Unlock()
			logger.Info("WebSocket client registered", map[string]interface{}{
				"user_id":        client.UserID(),
				"total_sessions": total,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			removed := h.remove(client, client.UserID())
			remaining := len(h.clients[client.UserID()])
			h.mu.Unlock()
			if removed {
				client.closeSend()
				logger.Info("WebSocket client unregistered", map[string]interface{}{
					"user_id":            client.UserID(),
					"remaining_sessions": remaining,
				})
			}

		case req := <-h.rebind:
			h.mu.Lock()
			previous := req.client.UserID()
			if h.remove(req.client, previous) {
				req.client.setUserID(req.userID)
				h.clients[req.userID] = append(h.clients[req.userID], req.client)
			}
			h.mu.Unlock()
			close(req.done)
			logger.Info("WebSocket client re-authenticated", map[string]interface{}{
				"previous_user_id": previous,
				"user_id":          req.userID,
			})

		case message := <-h.broadcast:
			h.mu.RLock()
			clientList := append([]*Client(nil), h.clients[message.UserID]...)
			h.mu.RUnlock()
			for _, client := range clientList {
				if !client.trySend(message.Message) {
					// Send 채널이 막혀있음, 비동기로 정리
					go h.Unregister(client)
					logger.Warn("Client send buffer full, disconnecting", map[string]interface{}{
						"user_id": message.UserID,
					})
				}
			}

		case <-h.stop:
			h.mu.Lock()
			for userID, clientList := range h.clients {
				for _, client := range clientList {
					client.closeSend()
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return
		}
	}
}

// remove 호출자는 h.mu를 보유해야 함
func (h *Hub) remove(client *Client, userID string) bool {
	clientList, ok := h.clients[userID]
	if !ok {
		return false
	}
	found := false
	newList := make([]*Client, 0, len(clientList))
	for _, c := range clientList {
		if c == client {
			found = true
			continue
		}
		newList = append(newList, c)
	}
	if len(newList) == 0 {
		delete(h.clients, userID)
	} else {
		h.clients[userID] = newList
	}
	return found
}

// Stop 모든 연결 종료
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// SendToUser 사용자의 모든 세션에 메시지 전송
func (h *Hub) SendToUser(userID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Error("Failed to marshal message", err, nil)
		return err
	}

	select {
	case h.broadcast <- &BroadcastMessage{UserID: userID, Message: data}:
	default:
		// 메시지 손실 허용, 다음 스냅샷이 상태를 다시 전달함
		logger.Warn("Broadcast channel full, message dropped", map[string]interface{}{
			"user_id": userID,
		})
	}
	return nil
}

// Register 클라이언트 등록
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister 클라이언트 등록 해제
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// Rebind 인증 메시지로 사용자가 바뀐 클라이언트를 새 사용자로 옮김
func (h *Hub) Rebind(client *Client, userID string) {
	req := rebindRequest{client: client, userID: userID, done: make(chan struct{})}
	select {
	case h.rebind <- req:
		<-req.done
	case <-h.stop:
	}
}

// IsUserOnline 사용자 온라인 여부 확인
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// SessionCount 사용자의 연결 수
func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
