package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Potat-Industries/eval-server/internal/submission"
)

type fakeDispatcher struct {
	result string
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, code string, msg []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func newTestRouter(token string, dispatcher *fakeDispatcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	pipeline := submission.New(dispatcher)
	NewHandler(pipeline, token).Register(router)
	return router
}

func TestHandleEvalUnauthorized(t *testing.T) {
	router := newTestRouter("secret", &fakeDispatcher{result: "2"})

	req := httptest.NewRequest(http.MethodPost, "/eval", strings.NewReader(`{"code":"1+1"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", w.Code)
	}

	var resp submission.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Message != unauthorizedMessage {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
}

func TestHandleEvalSuccess(t *testing.T) {
	router := newTestRouter("secret", &fakeDispatcher{result: "2"})

	req := httptest.NewRequest(http.MethodPost, "/eval", strings.NewReader(`{"code":"1+1"}`))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp submission.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0] != "2" {
		t.Fatalf("unexpected data: %v", resp.Data)
	}
}

func TestHandleEvalBadBody(t *testing.T) {
	router := newTestRouter("secret", &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/eval", strings.NewReader(`not json`))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
