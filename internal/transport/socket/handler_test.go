package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Potat-Industries/eval-server/internal/reversecall"
)

type rawSubmitter struct{ resp json.RawMessage }

func (r *rawSubmitter) SubmitRaw(ctx context.Context, code string, msg json.RawMessage) (json.RawMessage, error) {
	return r.resp, nil
}

func TestUnauthorizedCloseCode(t *testing.T) {
	hub := NewHub()
	router := reversecall.New(&rawSubmitter{resp: []byte(`{}`)}, hub.Broadcast)
	handler := NewHandler(hub, router, "secret")

	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?auth=wrong"
	_, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unauthorized token")
	}
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error, got %T: %v", err, err)
	}
	if closeErr.Code != reversecall.OpUnauthorized {
		t.Fatalf("expected close code %d, got %d", reversecall.OpUnauthorized, closeErr.Code)
	}
}

func TestAuthorizedConnectAndDispatch(t *testing.T) {
	hub := NewHub()
	router := reversecall.New(&rawSubmitter{resp: []byte(`{"statusCode":200,"data":["2"]}`)}, hub.Broadcast)
	handler := NewHandler(hub, router, "secret")

	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?auth=secret"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"id": "u1", "code": "1+1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame reversecall.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if frame.Opcode != reversecall.OpDispatch {
		t.Fatalf("expected DISPATCH, got %d", frame.Opcode)
	}
}

var _ http.Handler = (*Handler)(nil)
