package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargepay/backend/services/billing-service/internal/http/middleware"
	"chargepay/backend/services/billing-service/internal/pricing"
	"chargepay/backend/services/billing-service/internal/session"
)

type fakeQuoter struct {
	mu     sync.Mutex
	calls  int
	owners []string
}

func (q *fakeQuoter) QuoteForOwner(_ context.Context, transactionID, owner string) (pricing.ChargeBreakdown, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.owners = append(q.owners, owner)
	if transactionID != "tx-1" {
		return pricing.ChargeBreakdown{}, session.ErrNotFound
	}
	return pricing.ChargeBreakdown{
		TransactionID: transactionID,
		Currency:      "EUR",
		Total:         decimal.NewFromInt(int64(q.calls)),
		IsFinal:       q.calls >= 3,
	}, nil
}

func newTestServer(t *testing.T, quoter Quoter) *httptest.Server {
	t.Helper()
	estimates := NewEstimateServer(quoter, 10*time.Millisecond, zap.NewNop())
	r := chi.NewRouter()
	r.With(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithOwner(r.Context(), "42")))
		})
	}).Get("/ws/sessions/{transactionID}/estimate", estimates.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, txID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + txID + "/estimate"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (Frame, error) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f, nil
}

func TestEstimateStreamEndsWithFinalPrice(t *testing.T) {
	quoter := &fakeQuoter{}
	conn := dial(t, newTestServer(t, quoter), "tx-1")

	var frames []Frame
	for {
		f, err := readFrame(t, conn)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("unexpected read error: %v", err)
			}
			break
		}
		frames = append(frames, f)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	last := frames[len(frames)-1]
	if last.Estimate == nil || !last.Estimate.IsFinal || !last.Estimate.Total.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected final frame %+v", last)
	}

	quoter.mu.Lock()
	defer quoter.mu.Unlock()
	for _, owner := range quoter.owners {
		if owner != "42" {
			t.Fatalf("quoted for wrong owner %q", owner)
		}
	}
}

func TestEstimateStreamReportsErrors(t *testing.T) {
	conn := dial(t, newTestServer(t, &fakeQuoter{}), "tx-unknown")

	f, err := readFrame(t, conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Error == "" || f.Estimate != nil {
		t.Fatalf("expected error frame, got %+v", f)
	}
	if _, err := readFrame(t, conn); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestEstimateRequiresOwner(t *testing.T) {
	estimates := NewEstimateServer(&fakeQuoter{}, time.Second, zap.NewNop())
	rec := httptest.NewRecorder()
	estimates.HandleWS(rec, httptest.NewRequest(http.MethodGet, "/ws/sessions/tx-1/estimate", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
