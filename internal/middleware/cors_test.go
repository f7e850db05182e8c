package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name            string
		allowed         []string
		origin          string
		method          string
		wantStatus      int
		wantOrigin      string
		wantCredentials bool
	}{
		{
			name:       "explicit origin allowed",
			allowed:    []string{"http://localhost:3000"},
			origin:     "http://localhost:3000",
			method:     http.MethodGet,
			wantStatus: http.StatusNoContent, wantOrigin: "http://localhost:3000", wantCredentials: true,
		},
		{
			name:       "wildcard allows any origin without credentials",
			allowed:    []string{"*"},
			origin:     "http://evil.example",
			method:     http.MethodGet,
			wantStatus: http.StatusNoContent, wantOrigin: "http://evil.example", wantCredentials: false,
		},
		{
			name:       "unlisted origin gets no headers",
			allowed:    []string{"http://localhost:3000"},
			origin:     "http://other.example",
			method:     http.MethodGet,
			wantStatus: http.StatusNoContent, wantOrigin: "",
		},
		{
			name:       "preflight short circuits",
			allowed:    []string{"http://localhost:3000"},
			origin:     "http://localhost:3000",
			method:     http.MethodOptions,
			wantStatus: http.StatusOK, wantOrigin: "http://localhost:3000", wantCredentials: true,
		},
		{
			name:       "no origin header",
			allowed:    []string{"*"},
			origin:     "",
			method:     http.MethodGet,
			wantStatus: http.StatusNoContent, wantOrigin: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			creds := w.Header().Get("Access-Control-Allow-Credentials") == "true"
			if creds != tt.wantCredentials {
				t.Errorf("Allow-Credentials = %v, want %v", creds, tt.wantCredentials)
			}
		})
	}
}
