package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testNotification() Notification {
	return Notification{
		QuoteID:   "WETH / USDC",
		TokenName: "WETH",
		FieldType: "price0Cumulative",
		Timestamp: time.Unix(1_700_000_000, 0),
		Label:     "VaR alpha=0.05 n=144",
		Value:     0.61,
		Threshold: 0.5,
	}
}

func TestTelegramNotifySuccess(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		gotText = payload["text"]
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, noopLogger())
	if err := n.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotText, "VaR alpha=0.05 n=144") {
		t.Fatalf("message missing grid label: %q", gotText)
	}
	if !strings.Contains(gotText, "WETH / USDC") {
		t.Fatalf("message missing quote id: %q", gotText)
	}
}

func TestTelegramNotifyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, noopLogger())
	if err := n.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error on HTTP 403")
	}
}

func TestTelegramNotifyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": false})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat", srv.URL, time.Second, noopLogger())
	if err := n.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error when telegram replies ok=false")
	}
}
