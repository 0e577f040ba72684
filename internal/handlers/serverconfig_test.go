package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/video-portal/internal/config"
)

func TestServerConfig(t *testing.T) {
	cfg := &config.Portal{SiteName: "影视站", Announcement: "欢迎"}
	req := httptest.NewRequest(http.MethodGet, "/api/server-config", nil)
	rec := httptest.NewRecorder()
	ServerConfig(cfg)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got serverConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SiteName != "影视站" || got.Announcement != "欢迎" || got.PageLimit != config.PageLimit {
		t.Fatalf("unexpected payload: %+v", got)
	}
}
