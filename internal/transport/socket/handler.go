package socket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Potat-Industries/eval-server/internal/reversecall"
	"github.com/Potat-Industries/eval-server/internal/transport"
	"github.com/Potat-Industries/eval-server/pkg/utils/logger"
)

const heartbeatInterval = 30 * time.Second

// heartbeatMessages is the fixed list of harmless strings HEARTBEAT frames
// rotate through.
var heartbeatMessages = []string{
	"still here",
	"just vibing",
	"the potatoes are fine",
	"no thoughts, only ticks",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades /socket connections and runs the reverse-call protocol
// over them.
type Handler struct {
	hub    *Hub
	router *reversecall.Router
	token  string
}

func NewHandler(hub *Hub, router *reversecall.Router, token string) *Handler {
	return &Handler{hub: hub, router: router, token: token}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !transport.CheckToken(h.token, r.URL.Query().Get("auth")) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(reversecall.OpUnauthorized, "unauthorized"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn}
	h.hub.add(c)
	defer h.hub.remove(c)
	defer func() { _ = conn.Close() }()

	done := make(chan struct{})
	go h.heartbeatLoop(c, done)
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		frame := h.router.Handle(r.Context(), data)
		if frame.Opcode == 0 {
			continue
		}
		if err := c.writeFrame(frame); err != nil {
			logger.Warn(r.Context(), "socket write failed")
			return
		}
	}
}

func (h *Handler) heartbeatLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			msg := heartbeatMessages[i%len(heartbeatMessages)]
			i++
			frame := reversecall.Frame{
				Opcode: reversecall.OpHeartbeat,
				Data: encodeData(map[string]interface{}{
					"timestamp": time.Now().UnixMilli(),
					"message":   msg,
				}),
			}
			if err := c.writeFrame(frame); err != nil {
				return
			}
		}
	}
}
