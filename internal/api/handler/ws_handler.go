package handler

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/pkg/logger"
	"Murmur/internal/pkg/response"
	"Murmur/internal/pkg/util"
	"Murmur/internal/service"
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 4096
	sendBuffer   = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Authenticator 校验握手时携带的 Token，返回用户 ID
type Authenticator func(ctx context.Context, token string) (uint64, error)

type WsHandler struct {
	sessions     *service.SessionManager
	authenticate Authenticator
}

func NewWsHandler(sessions *service.SessionManager, authenticate Authenticator) *WsHandler {
	return &WsHandler{sessions: sessions, authenticate: authenticate}
}

// Connect 建立长连接：推送未读数快照，并接收进入、离开、翻页与重新同步指令
func (s *WsHandler) Connect(c *gin.Context) {
	ctx := c.Request.Context()

	token := c.Query("token")
	if token == "" {
		response.Error(c, service.UnauthorizedError)
		return
	}
	userID, err := s.authenticate(ctx, token)
	if err != nil {
		log.WarnContext(ctx, "WS 鉴权失败", "err", err)
		response.Error(c, service.UnauthorizedError)
		return
	}

	sess, err := s.sessions.Acquire(userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer s.sessions.Release(sess)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.ErrorContext(ctx, "WS 协议升级失败", "user_id", userID, "err", err)
		return
	}

	log.InfoContext(ctx, "用户 WS 连接已建立", "user_id", userID)
	newWsClient(conn, sess).run(context.WithoutCancel(ctx))
	log.InfoContext(ctx, "用户 WS 连接已断开", "user_id", userID)
}

// wsClient 单条连接。读循环处理指令，写循环负责推送与心跳
type wsClient struct {
	id   string
	conn *websocket.Conn
	sess *service.Session

	out         chan dto.WSServerFrame
	unreadReady chan struct{}
	latest      atomic.Pointer[service.UnreadSnapshot]
	done        chan struct{}
	writerDone  chan struct{}

	// 仅在读循环中访问
	rooms map[uint64]struct{}
}

func newWsClient(conn *websocket.Conn, sess *service.Session) *wsClient {
	return &wsClient{
		id:          "ws-" + uuid.NewString(),
		conn:        conn,
		sess:        sess,
		out:         make(chan dto.WSServerFrame, sendBuffer),
		unreadReady: make(chan struct{}, 1),
		done:        make(chan struct{}),
		writerDone:  make(chan struct{}),
		rooms:       make(map[uint64]struct{}),
	}
}

func (w *wsClient) run(ctx context.Context) {
	unsubscribe := w.sess.SubscribeUnread(w.offerUnread)
	w.offerUnread(w.sess.Snapshot())

	go w.writeLoop()
	w.readLoop(ctx)

	unsubscribe()
	close(w.done)
	<-w.writerDone
	_ = w.conn.Close()

	for roomID := range w.rooms {
		if err := w.sess.LeaveRoomAs(ctx, w.id, roomID); err != nil {
			log.WarnContext(ctx, "leave room on disconnect failed", "user_id", w.sess.UserID, "room_id", roomID, "err", err)
		}
	}
}

// offerUnread 只保留版本最新的快照，写循环空闲时推送
func (w *wsClient) offerUnread(snap service.UnreadSnapshot) {
	for {
		cur := w.latest.Load()
		if cur != nil && cur.Version >= snap.Version {
			return
		}
		if w.latest.CompareAndSwap(cur, &snap) {
			break
		}
	}
	select {
	case w.unreadReady <- struct{}{}:
	default:
	}
}

func (w *wsClient) readLoop(ctx context.Context) {
	w.conn.SetReadLimit(maxFrameSize)
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WarnContext(ctx, "WS 读取失败", "user_id", w.sess.UserID, "err", err)
			}
			return
		}

		var frame dto.WSClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if !w.send(errorFrame("", response.BadRequest, "Json错误")) {
				return
			}
			continue
		}
		if !w.handle(logger.WithTrace(ctx, "ws"), &frame) {
			return
		}
	}
}

// handle 处理一条指令，返回 false 时关闭连接
func (w *wsClient) handle(ctx context.Context, frame *dto.WSClientFrame) bool {
	if err := util.ValidateDTO(frame); err != nil {
		return w.send(errorFrame(frame.RequestID, response.BadRequest, err.Error()))
	}

	var (
		data any
		err  error
	)
	switch frame.Type {
	case dto.WSEnterRoom:
		if err = w.sess.EnterRoomAs(ctx, w.id, frame.RoomID); err == nil {
			w.rooms[frame.RoomID] = struct{}{}
		}
	case dto.WSLeaveRoom:
		err = w.sess.LeaveRoomAs(ctx, w.id, frame.RoomID)
		delete(w.rooms, frame.RoomID)
	case dto.WSFetchPage:
		var page *service.MessagePage
		if page, err = w.sess.FetchPage(ctx, frame.RoomID, frame.Page); err == nil {
			data = toPageDTO(frame.RoomID, page)
		}
	case dto.WSResync:
		err = w.sess.Resync(ctx, "client")
	}

	if err != nil {
		code, msg := response.Classify(err)
		if code == response.InternalServerError {
			log.ErrorContext(ctx, "WS 指令处理失败", "user_id", w.sess.UserID, "type", frame.Type, "err", err)
		}
		if !w.send(errorFrame(frame.RequestID, code, msg)) {
			return false
		}
		return !errors.Is(err, service.ErrSessionClosed)
	}

	reply := dto.WSServerFrame{Type: dto.WSAck, RequestID: frame.RequestID}
	if data != nil {
		reply = dto.WSServerFrame{Type: dto.WSPage, RequestID: frame.RequestID, Data: data}
	}
	return w.send(reply)
}

func errorFrame(requestID string, code int, msg string) dto.WSServerFrame {
	return dto.WSServerFrame{Type: dto.WSError, RequestID: requestID, Code: code, Error: msg}
}

func (w *wsClient) send(frame dto.WSServerFrame) bool {
	select {
	case w.out <- frame:
		return true
	case <-w.writerDone:
		return false
	}
}

func (w *wsClient) writeLoop() {
	defer close(w.writerDone)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case frame := <-w.out:
			if err := w.write(frame); err != nil {
				_ = w.conn.Close()
				return
			}
		case <-w.unreadReady:
			snap := w.latest.Load()
			if snap == nil {
				continue
			}
			if err := w.write(dto.WSServerFrame{Type: dto.WSUnread, Data: toUnreadDTO(*snap)}); err != nil {
				_ = w.conn.Close()
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = w.conn.Close()
				return
			}
		}
	}
}

func (w *wsClient) write(frame dto.WSServerFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}
