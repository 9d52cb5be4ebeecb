package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsHandler(cfg CORSConfig, called *bool) http.Handler {
	return CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
	}))
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := corsHandler(CORSConfig{AllowedOrigins: []string{"http://desk.local"}}, &called)

	req := httptest.NewRequest(http.MethodOptions, "/agent", nil)
	req.Header.Set("Origin", "http://desk.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if called {
		t.Error("Expected preflight to stop before the handler")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://desk.local" {
		t.Errorf("Expected echoed origin, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Authorization, Content-Type, X-Requested-With" {
		t.Errorf("Expected default Allow-Headers, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("Expected Max-Age 600, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Expected credentials for explicit origin, got %q", got)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Expected Vary Origin, got %q", got)
	}
}

func TestCORS_CustomHeadersAndMaxAge(t *testing.T) {
	h := corsHandler(CORSConfig{
		AllowedOrigins: []string{"http://desk.local"},
		AllowedHeaders: []string{"Authorization", "X-Desk-Client"},
		MaxAge:         60,
	}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/agent", nil)
	req.Header.Set("Origin", "http://desk.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Authorization, X-Desk-Client" {
		t.Errorf("Expected configured headers, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "60" {
		t.Errorf("Expected Max-Age 60, got %q", got)
	}
}

func TestCORS_PlainOptionsReachesHandler(t *testing.T) {
	called := false
	h := corsHandler(CORSConfig{AllowedOrigins: []string{"http://desk.local"}}, &called)

	req := httptest.NewRequest(http.MethodOptions, "/agent", nil)
	req.Header.Set("Origin", "http://desk.local")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if !called {
		t.Error("Expected OPTIONS without Access-Control-Request-Method to reach the handler")
	}
}

func TestCORS_WildcardHasNoCredentials(t *testing.T) {
	for _, origins := range [][]string{{"*"}, nil} {
		h := corsHandler(CORSConfig{AllowedOrigins: origins}, nil)

		req := httptest.NewRequest(http.MethodGet, "/agent", nil)
		req.Header.Set("Origin", "http://elsewhere")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://elsewhere" {
			t.Errorf("Expected echoed origin for %v, got %q", origins, got)
		}
		if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
			t.Errorf("Expected no credentials for wildcard, got %q", got)
		}
	}
}

func TestCORS_ExplicitOriginAlongsideWildcard(t *testing.T) {
	h := corsHandler(CORSConfig{AllowedOrigins: []string{"*", "http://desk.local"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/agent", nil)
	req.Header.Set("Origin", "http://desk.local")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Expected credentials for named origin, got %q", got)
	}
}

func TestCORS_UnknownOrigin(t *testing.T) {
	h := corsHandler(CORSConfig{AllowedOrigins: []string{"http://desk.local"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/agent", nil)
	req.Header.Set("Origin", "http://evil")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS headers, got %q", got)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Expected Vary Origin even when rejected, got %q", got)
	}
}

func TestCORS_NoOriginNoHeaders(t *testing.T) {
	h := corsHandler(CORSConfig{AllowedOrigins: []string{"*"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/agent", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	for _, name := range []string{"Access-Control-Allow-Origin", "Access-Control-Allow-Credentials", "Vary"} {
		if got := w.Header().Get(name); got != "" {
			t.Errorf("Expected no %s without Origin, got %q", name, got)
		}
	}
}
