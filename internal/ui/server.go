package ui

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"webcall/internal/calls"
	"webcall/internal/credentials"
	"webcall/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

//go:embed templates/index.html
var templates embed.FS

var page = template.Must(template.ParseFS(templates, "templates/index.html"))

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Controller is the part of *calls.Controller the UI drives.
type Controller interface {
	Snapshot() calls.State
	Subscribe() (<-chan calls.State, func())
	History() []calls.CallRecord
	Draft() credentials.Set
	Configure(ctx context.Context, set credentials.Set) error
	PlaceCall(ctx context.Context) error
	HangUp() error
	Reset(ctx context.Context) error
}

// Server serves the single page, its state stream and the intent endpoints.
type Server struct {
	ctrl     Controller
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(ctrl Controller, log *slog.Logger) *Server {
	return &Server{
		ctrl: ctrl,
		log:  logger.Component(log, "ui"),
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
	}
}

// Register mounts the UI routes.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/", s.index)
	r.GET("/state", s.state)
	r.GET("/ws", s.stream)

	r.POST("/configure", s.configure)
	r.POST("/call", s.call)
	r.POST("/hangup", s.hangUp)
	r.POST("/reset", s.reset)
}

func (s *Server) view(st calls.State) View {
	return Render(st).WithHistory(s.ctrl.History())
}

func (s *Server) index(c *gin.Context) {
	data := struct {
		View  View
		Draft credentials.Set
	}{
		View:  s.view(s.ctrl.Snapshot()),
		Draft: s.ctrl.Draft(),
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.view(s.ctrl.Snapshot()))
}

type configureRequest struct {
	AccountID     string `json:"accountId"`
	APIKeyID      string `json:"apiKeyId"`
	APIKeySecret  string `json:"apiKeySecret"`
	ApplicationID string `json:"applicationId"`
}

func (s *Server) configure(c *gin.Context) {
	var req configureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	set := credentials.Set{
		AccountID:     req.AccountID,
		APIKeyID:      req.APIKeyID,
		APIKeySecret:  req.APIKeySecret,
		ApplicationID: req.ApplicationID,
	}
	s.respond(c, s.ctrl.Configure(c.Request.Context(), set))
}

func (s *Server) call(c *gin.Context) {
	// The call outlives the request.
	s.respond(c, s.ctrl.PlaceCall(context.WithoutCancel(c.Request.Context())))
}

func (s *Server) hangUp(c *gin.Context) {
	s.respond(c, s.ctrl.HangUp())
}

func (s *Server) reset(c *gin.Context) {
	s.respond(c, s.ctrl.Reset(c.Request.Context()))
}

// respond writes the current view, or the error mapped to a status code.
func (s *Server) respond(c *gin.Context, err error) {
	if err != nil {
		status := statusFor(err)
		msg := err.Error()
		if status == http.StatusBadRequest || status == http.StatusBadGateway {
			// The controller already phrased these for the banner.
			msg = s.ctrl.Snapshot().Message
		}
		if status >= http.StatusInternalServerError {
			_ = c.Error(err)
		}
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, s.view(s.ctrl.Snapshot()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, calls.ErrIncompleteCredentials),
		errors.Is(err, calls.ErrInvalidFormat),
		errors.Is(err, calls.ErrCredentialsRejected):
		return http.StatusBadRequest
	case errors.Is(err, calls.ErrNotReady),
		errors.Is(err, calls.ErrNoActiveCall),
		errors.Is(err, calls.ErrNotConfigured),
		errors.Is(err, calls.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, calls.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// stream pushes a fresh view to the browser on every state change.
func (s *Server) stream(c *gin.Context) {
	log := logger.FromGin(c)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	states, cancel := s.ctrl.Subscribe()
	defer cancel()

	// Client messages are ignored; reading keeps pongs and close frames flowing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("websocket read ended", "err", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case st, ok := <-states:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(s.view(st)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// sameOrigin accepts requests without an Origin header and those whose
// origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
