package rpc

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/coilhq/ilp-plugin-bilateral/xlog"
)

// Server accepts inbound duplex connections from peers, upgrading each to
// a websocket and handing it to a Dispatcher once the presented bearer
// token has been checked.
type Server struct {
	Dispatcher *Dispatcher
	Authorize  func(token string) bool
	Log        xlog.Logger

	upgrader websocket.Upgrader

	onConn func(*Conn)
}

// NewServer builds a Server. onConn, if non-nil, is invoked with each
// newly accepted Conn so the plugin engine can register it for outbound
// Calls as well as inbound dispatch.
func NewServer(disp *Dispatcher, authorize func(string) bool, log xlog.Logger, onConn func(*Conn)) *Server {
	return &Server{
		Dispatcher: disp,
		Authorize:  authorize,
		Log:        log,
		onConn:     onConn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns an http.Handler serving the /rpc upgrade endpoint and a
// /health probe, wrapped
// in a permissive CORS policy (the duplex endpoint is itself
// bearer-token authenticated, so origin restriction is not load-bearing).
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/rpc", s.handleUpgrade)
	router.GET("/health", s.handleHealth)
	return cors.AllowAll().Handler(router)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := bearerToken(r)
	if s.Authorize != nil && !s.Authorize(token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.Log != nil {
			s.Log.Warn("rpc: upgrade failed", "err", err)
		}
		return
	}

	conn := NewConn(ws, s.Dispatcher)
	if s.onConn != nil {
		s.onConn(conn)
	}
	go func() {
		if err := conn.Serve(r.Context()); err != nil && s.Log != nil {
			s.Log.Debug("rpc: connection ended", "err", err)
		}
	}()
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}
