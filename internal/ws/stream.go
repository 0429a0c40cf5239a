// Package ws classifies images streamed over a websocket: every binary
// frame is one image, every reply one JSON text frame.
package ws

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Brownie44l1/waste-api/internal/classifier"
	"github.com/Brownie44l1/waste-api/internal/handlers"
	"github.com/Brownie44l1/waste-api/internal/httpx"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Reply struct {
	Seq        int                    `json:"seq"`
	Status     int                    `json:"status"`
	Prediction *classifier.Prediction `json:"prediction,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

type Stream struct {
	classifier classifier.Classifier
	logger     *zap.Logger
	maxFrame   int64
	upgrader   websocket.Upgrader
}

// NewStream accepts connections from allowOrigin ("*" allows any).
func NewStream(c classifier.Classifier, maxFrame int64, allowOrigin string, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxFrame <= 0 {
		maxFrame = 16 << 20
	}
	return &Stream{
		classifier: c,
		logger:     logger,
		maxFrame:   maxFrame,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 4 << 10,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowOrigin == "*" || origin == "" || origin == allowOrigin
			},
		},
	}
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id := httpx.RequestID(r.Context())
	s.logger.Debug("websocket connected", zap.String("request_id", id), zap.String("remote", r.RemoteAddr))

	conn.SetReadLimit(s.maxFrame)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go s.ping(conn, done)

	for seq := 1; ; seq++ {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info("websocket read error", zap.Error(err), zap.String("request_id", id))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		reply := Reply{Seq: seq, Status: http.StatusOK}
		if kind != websocket.BinaryMessage {
			reply.Status = http.StatusUnsupportedMediaType
			reply.Error = "send images as binary frames"
		} else {
			pred, err := s.classifier.Classify(r.Context(), "frame-"+strconv.Itoa(seq), data)
			if err != nil {
				reply.Status, reply.Error = handlers.StatusFor(err)
			} else {
				reply.Prediction = pred
			}
		}

		if err := s.write(conn, reply); err != nil {
			s.logger.Info("websocket write error", zap.Error(err), zap.String("request_id", id))
			return
		}
	}
}

func (s *Stream) write(conn *websocket.Conn, reply Reply) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(reply)
}

// ping keeps idle connections alive until done is closed. WriteControl is
// safe to call concurrently with WriteJSON.
func (s *Stream) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
