package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/leetgaming-pro/replay-minimap/internal/logging"
	"github.com/leetgaming-pro/replay-minimap/internal/session"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096
	wsBuffer         = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Плеер встраивается на сторонние страницы; сессия и так приватна по UUID
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Типы сообщений потока
const (
	wsTypeState = "state"
	wsTypeError = "error"
)

var (
	errUnknownAction = errors.New("unknown action")
	errBadClick      = errors.New("click requires x and y")
)

// wsCommand команда клиента по WebSocket
type wsCommand struct {
	Action   string   `json:"action"` // toggle | play | pause | seek | speed | toggles | hover | click | clear_focus
	Tick     int      `json:"tick,omitempty"`
	Speed    float64  `json:"speed,omitempty"`
	Names    *bool    `json:"names,omitempty"`
	Events   *bool    `json:"events,omitempty"`
	Grenades *bool    `json:"grenades,omitempty"`
	PlayerID string   `json:"player_id,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Size     int      `json:"size,omitempty"`
}

// wsMessage исходящее сообщение, не являющееся обновлением сессии
type wsMessage struct {
	Type  string            `json:"type"`
	Error string            `json:"error,omitempty"`
	State *session.Snapshot `json:"state,omitempty"`
}

// handleSessionStream поток обновлений сессии; клиент может слать команды в ответ
func (rs *RestServer) handleSessionStream(c *gin.Context) {
	s, ok := rs.session(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade сам ответил клиенту
		logging.Warn("⚠️ WebSocket upgrade для сессии %s: %v", s.ID, err)
		return
	}

	updates, cancel := s.Subscribe(wsBuffer)
	logging.Info("🔌 WebSocket подключён к сессии %s (%s)", s.ID, c.ClientIP())

	client := &wsClient{conn: conn, session: s, rs: rs}
	snap := s.Snapshot()
	if err := client.writeJSON(wsMessage{Type: wsTypeState, State: &snap}); err != nil {
		cancel()
		conn.Close()
		return
	}

	go client.writePump(updates)
	client.readPump()

	cancel()
	logging.Info("🔌 WebSocket сессии %s отключён", s.ID)
}

type wsClient struct {
	conn    *websocket.Conn
	session *session.Session
	rs      *RestServer

	writeMu sync.Mutex
}

func (wc *wsClient) writeJSON(v interface{}) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wc.conn.WriteJSON(v)
}

// readPump читает команды до разрыва соединения
func (wc *wsClient) readPump() {
	defer wc.conn.Close()

	wc.conn.SetReadLimit(wsMaxMessageSize)
	wc.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	wc.conn.SetPongHandler(func(string) error {
		wc.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("WebSocket сессии %s: %v", wc.session.ID, err)
			}
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			_ = wc.writeJSON(wsMessage{Type: wsTypeError, Error: "malformed command"})
			continue
		}
		if err := wc.apply(cmd); err != nil {
			_ = wc.writeJSON(wsMessage{Type: wsTypeError, Error: err.Error()})
		}
	}
}

// apply выполняет команду. Результат придёт подписчикам через поток обновлений.
func (wc *wsClient) apply(cmd wsCommand) error {
	s := wc.session
	switch cmd.Action {
	case "toggle":
		s.TogglePlay()
	case "play":
		s.Play()
	case "pause":
		s.Pause()
	case "seek":
		s.Seek(cmd.Tick)
	case "speed":
		_, err := s.SetSpeed(cmd.Speed)
		return err
	case "toggles":
		t := s.Snapshot().Toggles
		if cmd.Names != nil {
			t.ShowNames = *cmd.Names
		}
		if cmd.Events != nil {
			t.ShowEvents = *cmd.Events
		}
		if cmd.Grenades != nil {
			t.ShowGrenades = *cmd.Grenades
		}
		s.SetToggles(t)
	case "hover":
		if p, ok := wc.rs.point(PointRequest{X: cmd.X, Y: cmd.Y, Size: cmd.Size}); ok {
			s.HoverAt(p)
		} else {
			s.SetHover(cmd.PlayerID)
		}
	case "click":
		p, ok := wc.rs.point(PointRequest{X: cmd.X, Y: cmd.Y, Size: cmd.Size})
		if !ok {
			return errBadClick
		}
		s.Click(p)
	case "clear_focus":
		s.ClearFocus()
	default:
		return errUnknownAction
	}
	return nil
}

// writePump пересылает обновления сессии и пингует клиента
func (wc *wsClient) writePump(updates <-chan session.Update) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		wc.conn.Close()
	}()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				// Сессия закрыта или подписка отменена
				wc.writeMu.Lock()
				wc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = wc.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				wc.writeMu.Unlock()
				return
			}
			if err := wc.writeJSON(u); err != nil {
				return
			}
		case <-ticker.C:
			wc.writeMu.Lock()
			wc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := wc.conn.WriteMessage(websocket.PingMessage, nil)
			wc.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
