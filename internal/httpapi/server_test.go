package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/sprintpoker/sprintpoker/internal/gateway"
	"github.com/sprintpoker/sprintpoker/internal/perf"
	"github.com/sprintpoker/sprintpoker/internal/rooms"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	app := rooms.NewApp(rooms.NewMemoryRepository(clock), nil)
	pf := perf.New(clock)
	gw := gateway.New(app, gateway.DefaultConfig(), pf, nil, clock)
	s := NewServer(app, gateway.NewWebSocketHandler(gw), pf)
	return s, s.Handler()
}

func TestCreateRoom(t *testing.T) {
	_, handler := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(`{"hostName":"Hannah"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"id"`) || !strings.Contains(body, `"expiresAt"`) {
		t.Errorf("body = %s, want id and expiresAt", body)
	}

	// A request without a session cookie gets one.
	found := false
	for _, c := range rr.Result().Cookies() {
		if c.Name == gateway.SessionCookieName {
			found = true
			if !c.HttpOnly {
				t.Error("session cookie is not HttpOnly")
			}
		}
	}
	if !found {
		t.Error("no session cookie set")
	}
}

func TestCreateRoomKeepsExistingSession(t *testing.T) {
	_, handler := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(`{"hostName":"Hannah"}`))
	req.AddCookie(&http.Cookie{Name: gateway.SessionCookieName, Value: "sess-existing"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rr.Code)
	}
	for _, c := range rr.Result().Cookies() {
		if c.Name == gateway.SessionCookieName {
			t.Error("session cookie reissued for a request that already had one")
		}
	}
}

func TestCreateRoomValidation(t *testing.T) {
	_, handler := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"blank host name", `{"hostName":"   "}`},
		{"missing host name", `{}`},
		{"malformed body", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	_, handler := newTestServer(t)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ok") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	s, handler := newTestServer(t)
	s.perf.Inc("connections", 2)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"connections":2`) {
		t.Errorf("body = %s, want connections counter", rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, handler := newTestServer(t)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}
