package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargepay/backend/services/billing-service/internal/http/middleware"
	"chargepay/backend/services/billing-service/internal/pricing"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
)

// Quoter prices the caller's own session.
type Quoter interface {
	QuoteForOwner(ctx context.Context, transactionID, owner string) (pricing.ChargeBreakdown, error)
}

// Frame is one message of the estimate stream.
type Frame struct {
	Estimate *pricing.ChargeBreakdown `json:"estimate,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// EstimateServer streams advisory cost estimates of a running session.
type EstimateServer struct {
	quoter   Quoter
	interval time.Duration
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewEstimateServer builds ws server.
func NewEstimateServer(quoter Quoter, interval time.Duration, logger *zap.Logger) *EstimateServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &EstimateServer{
		quoter:   quoter,
		interval: interval,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for /ws/sessions/{transactionID}/estimate. The stream
// ends once the session is terminated and its final price was sent.
func (s *EstimateServer) HandleWS(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	transactionID := chi.URLParam(r, "transactionID")
	if transactionID == "" {
		http.Error(w, "transaction id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readPump(conn, cancel)

	log := s.logger.With(zap.String("transaction_id", transactionID), zap.String("owner", owner))
	log.Info("estimate stream opened")
	defer log.Info("estimate stream closed")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		estimate, err := s.quoter.QuoteForOwner(ctx, transactionID, owner)
		if err != nil {
			if ctx.Err() == nil {
				_ = writeFrame(conn, Frame{Error: err.Error()})
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "estimate unavailable"),
					time.Now().Add(writeTimeout))
			}
			return
		}
		if err := writeFrame(conn, Frame{Estimate: &estimate}); err != nil {
			log.Info("estimate write failed", zap.Error(err))
			return
		}
		if estimate.IsFinal {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session terminated"),
				time.Now().Add(writeTimeout))
			return
		}

		if !waitTick(ctx, conn, ticker, ping) {
			return
		}
	}
}

// waitTick blocks until the next estimate is due, pinging the peer meanwhile.
func waitTick(ctx context.Context, conn *websocket.Conn, ticker, ping *time.Ticker) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return false
			}
		case <-ticker.C:
			return true
		}
	}
}

// readPump consumes control frames and cancels the stream when the peer goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
