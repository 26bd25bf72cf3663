package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Potat-Industries/eval-server/internal/worker"
)

type fakePool struct{}

func (fakePool) Size() int { return 2 }
func (fakePool) Stats() []worker.WorkerStat {
	return []worker.WorkerStat{{Ready: true, QueueSize: 1, Restarts: 0}}
}

func newTestRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHandler(fakePool{})
	h.Register(router, secret)
	return router
}

func TestStatsRequiresAuth(t *testing.T) {
	router := newTestRouter("topsecret")
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStatsSucceedsWithValidToken(t *testing.T) {
	secret := "topsecret"
	router := newTestRouter(secret)

	issuer := NewTokenIssuer(secret, time.Minute)
	token, err := issuer.Issue("operator", "admin")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
