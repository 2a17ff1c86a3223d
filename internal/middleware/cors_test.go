package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// newCORSTestHandler はCORSミドルウェアを通したハンドラーと、後続が呼ばれたかのフラグを返す。
func newCORSTestHandler(allowed string, status int) (http.Handler, *bool) {
	called := false
	h := NewCORSMiddleware(allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(status)
	}))
	return h, &called
}

func TestCORSMiddleware_AllowedOrigin_SetsHeaders(t *testing.T) {
	handler, _ := newCORSTestHandler("http://localhost:3000", http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/chat/history", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	tests := []struct {
		header string
		want   string
	}{
		{"Access-Control-Allow-Origin", "http://localhost:3000"},
		{"Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS"},
		{"Access-Control-Allow-Headers", "Content-Type"},
		{"Access-Control-Allow-Credentials", "true"},
		{"Access-Control-Max-Age", "86400"},
		{"Vary", "Origin"},
	}

	for _, tt := range tests {
		if got := resp.Header.Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestCORSMiddleware_MultipleOrigins_ReflectsMatchingOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"1つ目", "https://app.example.com", "https://app.example.com"},
		{"2つ目", "http://localhost:3000", "http://localhost:3000"},
		{"一覧にない", "https://evil.example.com", ""},
		{"Originなし", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, called := newCORSTestHandler("https://app.example.com/, http://localhost:3000", http.StatusOK)

			req := httptest.NewRequest(http.MethodGet, "/user", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if !*called {
				t.Error("next handler should be called")
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
			if tt.want == "" && w.Header().Get("Access-Control-Allow-Credentials") != "" {
				t.Error("credentials must not be allowed for an unlisted origin")
			}
			if got := w.Header().Get("Vary"); got != "Origin" {
				t.Errorf("Vary = %q, want Origin", got)
			}
		})
	}
}

func TestCORSMiddleware_OptionsRequest_Returns204(t *testing.T) {
	handler, called := newCORSTestHandler("http://localhost:3000", http.StatusOK)

	req := httptest.NewRequest(http.MethodOptions, "/chat/history", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if *called {
		t.Error("next handler should not be called for OPTIONS preflight")
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:3000")
	}
}

// 許可されていないOriginのプリフライトは後続に渡し、CORSヘッダーを付けない
func TestCORSMiddleware_OptionsFromUnlistedOrigin_PassesThrough(t *testing.T) {
	handler, called := newCORSTestHandler("http://localhost:3000", http.StatusMethodNotAllowed)

	req := httptest.NewRequest(http.MethodOptions, "/chat/history", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !*called {
		t.Error("next handler should be called for an unlisted origin")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORSMiddleware_EmptyOrWildcardConfig_NoHeaders(t *testing.T) {
	for _, allowed := range []string{"", "*", " , "} {
		handler, called := newCORSTestHandler(allowed, http.StatusOK)

		req := httptest.NewRequest(http.MethodGet, "/chat/history", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if !*called {
			t.Errorf("allowed=%q: next handler should be called", allowed)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("allowed=%q: Access-Control-Allow-Origin = %q, want empty", allowed, got)
		}
	}
}
