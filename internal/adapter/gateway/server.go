// Package gateway is the local websocket bridge used by the desktop front end:
// RPC calls drive the migration service and every bus event is forwarded as an
// event frame.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"skyport/internal/domain"
)

// DefaultSendBuffer is the per-client outbound frame queue.
const DefaultSendBuffer = 1024

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// Middleware wraps the bridge's HTTP handler.
type Middleware func(http.Handler) http.Handler

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	id        uint64
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server is the WebSocket bridge that exposes RPC methods and forwards events.
type Server struct {
	bus         domain.EventBus
	clients     sync.Map // connID (uint64) -> *clientConn
	auth        Authenticator
	handlersMu  sync.RWMutex
	handlers    map[string]RPCHandler
	logger      *slog.Logger
	addr        string
	sendBuffer  int
	middlewares []Middleware
	httpRoutes  []httpRoute

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	unsubAll  func()
	nextID    atomic.Uint64
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMiddleware wraps every HTTP request, websocket upgrades included.
// The first middleware given is the outermost.
func WithMiddleware(m ...Middleware) ServerOption {
	return func(s *Server) { s.middlewares = append(s.middlewares, m...) }
}

// WithSendBuffer sets how many frames may queue for one client before it is
// disconnected as too slow.
func WithSendBuffer(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// NewServer creates a bridge server.
func NewServer(bus domain.EventBus, auth Authenticator, addr string, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		bus:        bus,
		auth:       auth,
		handlers:   make(map[string]RPCHandler),
		logger:     logger,
		addr:       addr,
		sendBuffer: DefaultSendBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// Methods returns the registered RPC method names.
func (s *Server) Methods() []string {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	return out
}

// RegisterHTTPRoute adds an HTTP handler to the bridge's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Handler builds the bridge's HTTP handler with middlewares applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}

	var h http.Handler = mux
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	return h
}

// Start begins accepting WebSocket connections. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(s.forwardEvent)
	}
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	unsub := s.unsubAll
	s.unsubAll = nil
	srv := s.httpSrv
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	n := 0
	s.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// forwardEvent queues an event frame for every client. Output must arrive
// complete and in order, so a client whose queue is full is disconnected
// instead of silently skipping frames; it can reconnect and ask for
// migration.state and migration.logs.
func (s *Server) forwardEvent(_ context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Method: string(event.Type), Payload: payload}

	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		case <-cc.done:
		default:
			s.logger.Warn("gateway: disconnecting slow client", "conn_id", cc.id, "client", cc.info.Name)
			cc.close()
			cc.ws.CloseNow()
		}
		return true
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	clientInfo, err := s.auth.Authenticate(token, r.RemoteAddr)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The front end is served from a local origin.
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	cc := &clientConn{
		id:     s.nextID.Add(1),
		info:   clientInfo,
		ws:     ws,
		sendCh: make(chan Frame, s.sendBuffer),
		done:   make(chan struct{}),
	}
	s.clients.Store(cc.id, cc)
	s.logger.Info("gateway client connected", "conn_id", cc.id, "client", clientInfo.Name)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
	s.clients.Delete(cc.id)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", cc.id)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				cc.close()
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, domain.NewDomainError("gateway.dispatch", domain.ErrRPCMethod, req.Method))
		return
	}

	result, err := handler(ctx, cc.info, req.Payload)
	if err != nil {
		s.logger.Debug("rpc failed", "method", req.Method, "client", cc.info.Name, "error", err)
	}
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Payload: result,
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
	}
	select {
	case cc.sendCh <- resp:
	case <-cc.done:
	default:
		s.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", id)
	}
}
