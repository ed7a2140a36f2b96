package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/kiliankoe/promptgate/internal/usage"
	"github.com/rs/zerolog/log"
)

const (
	EventState = "usage:state"
	EventGet   = "usage:get"
)

// Server pushes usage gate changes to connected clients.
type Server struct {
	gate *usage.Gate
	io   *socketio.Server
	emit func(event string, v any)
}

func New(gate *usage.Gate) *Server {
	return &Server{gate: gate}
}

// Mount attaches the Socket.IO server to the given Gin engine and subscribes
// to gate changes.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)
	srv.io = io
	srv.emit = func(event string, v any) {
		io.BroadcastToNamespace("/", event, v)
	}

	io.OnConnect("/", func(s socketio.Conn) error {
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		s.Emit(EventState, masked(srv.gate.Status()))
		return nil
	})

	io.OnEvent("/", EventGet, func(s socketio.Conn) usage.Status {
		return masked(srv.gate.Status())
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		if s == nil {
			log.Error().Err(e).Msg("socket error")
			return
		}
		log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	srv.gate.OnChange(srv.broadcast)

	go func() {
		if err := io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket server stopped")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	// Basic CORS preflight for Socket.IO POST
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})

	return io
}

func (srv *Server) broadcast(st usage.Status) {
	if srv.emit == nil {
		return
	}
	srv.emit(EventState, masked(st))
}

// masked hides the caller key; the full key is only served over HTTP.
func masked(st usage.Status) usage.Status {
	if st.APIKey != "" {
		st.APIKey = usage.MaskKey(st.APIKey)
	}
	return st
}
