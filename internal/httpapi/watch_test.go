package httpapi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"partsdesk/checkout/internal/domain"
)

func watchURL(serverURL, token string) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/api/v1/checkout/watch"
	if token != "" {
		u += "?access_token=" + url.QueryEscape(token)
	}
	return u
}

func readSnapshot(t *testing.T, conn *websocket.Conn) domain.CheckoutSnapshot {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload struct {
		Checkout domain.CheckoutSnapshot `json:"checkout"`
	}
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	return payload.Checkout
}

func TestWatchStreamsCheckoutChanges(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "cashier", "cashier123")
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(watchURL(server.URL, c.token), nil)
	if err != nil {
		t.Fatalf("dial watch: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	first := readSnapshot(t, conn)
	if first.Operator != "cashier" || len(first.Lines) != 0 {
		t.Fatalf("unexpected initial snapshot %+v", first)
	}

	if rec := c.do(http.MethodPost, "/api/v1/checkout/lines", addLineRequest{ProductID: "p-filter"}); rec.Code != http.StatusOK {
		t.Fatalf("add line: got %d", rec.Code)
	}

	var next domain.CheckoutSnapshot
	for i := 0; i < 5; i++ {
		next = readSnapshot(t, conn)
		if len(next.Lines) == 1 {
			break
		}
	}
	if len(next.Lines) != 1 || next.Lines[0].Product.ID != "p-filter" || next.Version <= first.Version {
		t.Fatalf("expected snapshot with added line, got %+v", next)
	}
}

func TestWatchClosesWithCheckout(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "cashier", "cashier123")
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(watchURL(server.URL, c.token), nil)
	if err != nil {
		t.Fatalf("dial watch: %v", err)
	}
	defer conn.Close()
	readSnapshot(t, conn)

	if rec := c.do(http.MethodDelete, "/api/v1/checkout", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("close checkout: got %d", rec.Code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected normal closure, got %v", err)
			}
			return
		}
	}
}

func TestWatchRequiresToken(t *testing.T) {
	api := newTestAPI(t)
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	for _, token := range []string{"", "not-a-jwt"} {
		_, resp, err := websocket.DefaultDialer.Dial(watchURL(server.URL, token), nil)
		if err == nil {
			t.Fatalf("expected dial to fail for token %q", token)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for token %q, got %+v", token, resp)
		}
	}
}
