package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		cfg         CORSConfig
		method      string
		headers     map[string]string
		wantStatus  int
		wantOrigin  string
		wantHeaders string
		wantCreds   bool
	}{
		{
			name:       "no origin passes through",
			cfg:        CORSConfig{AllowOrigins: []string{"https://shop.example"}},
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
		{
			name:       "wildcard origin",
			cfg:        CORSConfig{AllowOrigins: []string{"*"}},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://any.example"},
			wantStatus: http.StatusOK,
			wantOrigin: "*",
		},
		{
			name:       "listed origin matches case-insensitively",
			cfg:        CORSConfig{AllowOrigins: []string{"https://Shop.example"}},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://shop.example"},
			wantStatus: http.StatusOK,
			wantOrigin: "https://Shop.example",
		},
		{
			name:       "unlisted origin gets no headers",
			cfg:        CORSConfig{AllowOrigins: []string{"https://shop.example"}},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://evil.example"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "credentials echo the origin instead of wildcard",
			cfg:        CORSConfig{AllowCredentials: true},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://any.example"},
			wantStatus: http.StatusOK,
			wantOrigin: "https://any.example",
			wantCreds:  true,
		},
		{
			name:   "preflight with configured headers",
			cfg:    CORSConfig{AllowHeaders: []string{"Content-Type", "X-API-Key"}},
			method: http.MethodOptions,
			headers: map[string]string{
				"Origin":                        "https://shop.example",
				"Access-Control-Request-Method": "POST",
			},
			wantStatus:  http.StatusNoContent,
			wantOrigin:  "*",
			wantHeaders: "Content-Type, X-API-Key",
		},
		{
			name:   "preflight echoes requested headers",
			cfg:    CORSConfig{},
			method: http.MethodOptions,
			headers: map[string]string{
				"Origin":                         "https://shop.example",
				"Access-Control-Request-Method":  "POST",
				"Access-Control-Request-Headers": "X-Payment-Signature",
			},
			wantStatus:  http.StatusNoContent,
			wantOrigin:  "*",
			wantHeaders: "X-Payment-Signature",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.cfg)(okHandler())
			req := httptest.NewRequest(tt.method, "/api/orders", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantHeaders, w.Header().Get("Access-Control-Allow-Headers"))
			if tt.wantCreds {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
			}
		})
	}
}
