package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"webtriage/internal/server/storage"
	"webtriage/pkg/model"
)

type fakeStore struct {
	inserted    []*model.Transaction
	insertErr   error
	queryByIP   func(ctx context.Context, ip string, limit int) ([]model.Transaction, error)
	queryByHost func(ctx context.Context, host string, limit int) ([]model.Transaction, error)
	queryByPID  func(ctx context.Context, pid int, limit int) ([]model.Transaction, error)
}

func (f *fakeStore) Insert(ctx context.Context, tx *model.Transaction) error {
	f.inserted = append(f.inserted, tx)
	return f.insertErr
}

func (f *fakeStore) QueryByIP(ctx context.Context, ip string, limit int) ([]model.Transaction, error) {
	return f.queryByIP(ctx, ip, limit)
}

func (f *fakeStore) QueryByHost(ctx context.Context, host string, limit int) ([]model.Transaction, error) {
	return f.queryByHost(ctx, host, limit)
}

func (f *fakeStore) QueryByPID(ctx context.Context, pid int, limit int) ([]model.Transaction, error) {
	return f.queryByPID(ctx, pid, limit)
}

func (f *fakeStore) Close() error {
	return nil
}

var _ storage.Store = (*fakeStore)(nil)

func unexpected(t *testing.T) *fakeStore {
	return &fakeStore{
		queryByIP: func(ctx context.Context, ip string, limit int) ([]model.Transaction, error) {
			t.Fatalf("unexpected QueryByIP")
			return nil, nil
		},
		queryByHost: func(ctx context.Context, host string, limit int) ([]model.Transaction, error) {
			t.Fatalf("unexpected QueryByHost")
			return nil, nil
		},
		queryByPID: func(ctx context.Context, pid int, limit int) ([]model.Transaction, error) {
			t.Fatalf("unexpected QueryByPID")
			return nil, nil
		},
	}
}

func newRouter(store storage.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(store, nil)
	r := gin.New()
	r.POST("/api/v1/upload", h.Upload)
	r.GET("/api/v1/query", h.Query)
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestQueryByIP(t *testing.T) {
	store := unexpected(t)
	handled := false
	store.queryByIP = func(ctx context.Context, ip string, limit int) ([]model.Transaction, error) {
		handled = true
		if ip != "10.0.0.1" {
			t.Fatalf("ip=%s", ip)
		}
		if limit != storage.DefaultLimit {
			t.Fatalf("limit=%d", limit)
		}
		return []model.Transaction{{Conn: model.ConnInfo{ServerIP: ip}}}, nil
	}
	w := serve(newRouter(store), httptest.NewRequest(http.MethodGet, "/api/v1/query?ip=10.0.0.1&limit=99999", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !handled {
		t.Fatalf("not handled")
	}
	var rows []model.Transaction
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rows) != 1 || rows[0].Conn.ServerIP != "10.0.0.1" {
		t.Fatalf("rows=%v", rows)
	}
}

func TestQueryByHost(t *testing.T) {
	store := unexpected(t)
	store.queryByHost = func(ctx context.Context, host string, limit int) ([]model.Transaction, error) {
		if host != "example.com" || limit != 10 {
			t.Fatalf("host=%s limit=%d", host, limit)
		}
		return []model.Transaction{{Host: host}}, nil
	}
	w := serve(newRouter(store), httptest.NewRequest(http.MethodGet, "/api/v1/query?host=example.com&limit=10", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestQueryByPID(t *testing.T) {
	store := unexpected(t)
	store.queryByPID = func(ctx context.Context, pid int, limit int) ([]model.Transaction, error) {
		if pid != 321 {
			t.Fatalf("pid=%d", pid)
		}
		return nil, nil
	}
	w := serve(newRouter(store), httptest.NewRequest(http.MethodGet, "/api/v1/query?pid=321", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestQueryBadParams(t *testing.T) {
	for _, target := range []string{
		"/api/v1/query",
		"/api/v1/query?ip=not-an-ip",
		"/api/v1/query?pid=abc",
	} {
		w := serve(newRouter(unexpected(t)), httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status=%d", target, w.Code)
		}
	}
}

func TestQueryStoreError(t *testing.T) {
	store := unexpected(t)
	store.queryByHost = func(ctx context.Context, host string, limit int) ([]model.Transaction, error) {
		return nil, errors.New("boom")
	}
	w := serve(newRouter(store), httptest.NewRequest(http.MethodGet, "/api/v1/query?host=x", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestUpload(t *testing.T) {
	valid := model.Transaction{
		Method: "GET",
		URI:    "/",
		Conn:   model.ConnInfo{ClientIP: "192.168.1.10", ClientPort: 51000, ServerIP: "10.0.0.1", ServerPort: 80},
	}
	noIP := valid
	noIP.Conn.ClientIP = ""
	badPort := valid
	badPort.Conn.ServerPort = 70000
	noURI := valid
	noURI.URI = ""

	tests := []struct {
		name string
		tx   model.Transaction
		want int
	}{
		{"unanswered request accepted", valid, http.StatusNoContent},
		{"missing ip", noIP, http.StatusBadRequest},
		{"bad port", badPort, http.StatusBadRequest},
		{"missing uri", noURI, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := unexpected(t)
			body, _ := json.Marshal(tt.tx)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := serve(newRouter(store), req)
			if w.Code != tt.want {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
			if tt.want == http.StatusNoContent && len(store.inserted) != 1 {
				t.Fatalf("expected insert, got %d", len(store.inserted))
			}
		})
	}
}

func TestUploadBadJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", bytes.NewBufferString("{"))
	w := serve(newRouter(unexpected(t)), req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}
