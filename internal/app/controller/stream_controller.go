package controller

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ikkim/cartsync/internal/app/service"
	"github.com/ikkim/cartsync/internal/auth"
	"github.com/ikkim/cartsync/internal/middleware"
	ws "github.com/ikkim/cartsync/internal/websocket"
	"github.com/ikkim/cartsync/pkg/logger"
)

// StreamController serves the websocket stream. Each connection owns a live
// cart session and catalog listener for its user.
type StreamController struct {
	hub      *ws.Hub
	carts    service.CartService
	catalog  service.CatalogService
	verifier auth.Verifier
	upgrader websocket.Upgrader
}

func NewStreamController(hub *ws.Hub, carts service.CartService, catalog service.CatalogService, verifier auth.Verifier, allowedOrigins []string) *StreamController {
	return &StreamController{
		hub:      hub,
		carts:    carts,
		catalog:  catalog,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}

// Stream upgrades the connection and starts pushing snapshots
// GET /api/v1/ws
func (ctrl *StreamController) Stream(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	conn, err := ctrl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("Failed to upgrade to WebSocket", err)
		return
	}

	stream := &cartStream{ctrl: ctrl}
	client := ws.NewClient(ctrl.hub, ws.NewConn(conn), userID, stream.handle)
	stream.client = client
	client.OnClose(stream.close)

	ctrl.hub.Register(client)
	go client.WritePump()

	if err := stream.bind(userID); err != nil {
		log.Error("Failed to open stream sessions", err, map[string]interface{}{
			"user_id": userID,
		})
		client.SendError("failed to open cart")
	}
	go client.ReadPump()
}

type cartStream struct {
	ctrl   *StreamController
	client *ws.Client

	mu       sync.Mutex
	closed   bool
	userID   string
	session  *service.CartSession
	listener *service.CatalogListener
	cancel   context.CancelFunc
}

// bind opens the cart session and catalog listener for userID. The request
// context ends when the handler returns, so they get their own.
func (s *cartStream) bind(userID string) error {
	ctx, cancel := context.WithCancel(context.Background())

	session, err := s.ctrl.carts.ObserveCart(ctx, userID)
	if err != nil {
		cancel()
		return err
	}
	listener, err := s.ctrl.catalog.WatchCatalog(ctx, userID)
	if err != nil {
		session.Close()
		cancel()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		session.Close()
		cancel()
		return nil
	}
	s.userID = userID
	s.session = session
	s.listener = listener
	s.cancel = cancel
	s.mu.Unlock()

	go s.forwardCart(session)
	go s.forwardCatalog(listener)
	return nil
}

// unbind closes the current sessions. A scheduled cart write still completes.
func (s *cartStream) unbind() {
	s.mu.Lock()
	session, listener, cancel := s.session, s.listener, s.cancel
	s.session, s.listener, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	if session != nil {
		session.Close()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *cartStream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.unbind()
}

func (s *cartStream) current() (*service.CartSession, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.userID
}

// forwardCart pushes every list to the client. A client too slow to take a
// list is disconnected rather than left on a stale cart.
func (s *cartStream) forwardCart(session *service.CartSession) {
	for items := range session.Updates() {
		if cur, _ := s.current(); cur != session {
			return
		}
		if !s.client.SendOrDisconnect(ws.NewCartSnapshot(items, session.State().String())) {
			return
		}
	}

	// the session closed without unbind: its subscription ended
	if cur, userID := s.current(); cur == session {
		logger.Warn("Cart session ended, disconnecting stream", map[string]interface{}{
			"user_id": userID,
		})
		s.client.SendError("cart closed")
		go s.ctrl.hub.Unregister(s.client)
	}
}

func (s *cartStream) forwardCatalog(listener *service.CatalogListener) {
	for products := range listener.Updates() {
		s.mu.Lock()
		stale := s.listener != listener
		s.mu.Unlock()
		if stale {
			return
		}
		if !s.client.SendOrDisconnect(ws.NewCatalogSnapshot(products)) {
			return
		}
	}
}

func (s *cartStream) handle(client *ws.Client, msg ws.ClientMessage) {
	switch msg.Type {
	case ws.TypeAddToCart:
		session, userID := s.current()
		if session == nil {
			client.SendError("cart not ready")
			return
		}
		product, err := s.ctrl.catalog.GetProduct(context.Background(), msg.ProductID)
		if err != nil {
			client.SendError("product not found")
			return
		}
		if _, err := session.AddItem(*product); err != nil {
			logger.Warn("Stream add to cart failed", map[string]interface{}{
				"user_id":    userID,
				"product_id": msg.ProductID,
				"error":      err.Error(),
			})
			client.SendError("cart closed")
		}

	case ws.TypeRemoveFromCart:
		session, _ := s.current()
		if session == nil {
			client.SendError("cart not ready")
			return
		}
		if _, err := session.RemoveItem(msg.ProductID); err != nil {
			client.SendError("cart closed")
		}

	case ws.TypeAuth:
		identity, err := s.ctrl.verifier.Verify(context.Background(), msg.Token)
		if err != nil {
			client.SendError("invalid token")
			return
		}
		_, previous := s.current()
		s.unbind()
		s.ctrl.hub.Rebind(client, identity.UserID)
		if err := s.bind(identity.UserID); err != nil {
			logger.Error("Failed to rebind stream", err, map[string]interface{}{
				"user_id": identity.UserID,
			})
			client.SendError("failed to open cart")
			return
		}
		logger.Info("Stream identity changed", map[string]interface{}{
			"previous_user_id": previous,
			"user_id":          identity.UserID,
		})
	}
}
