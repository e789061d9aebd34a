package webdecoder

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"webtriage/pkg/model"
)

type fakeAlerter struct {
	got []*model.Transaction
	err error
}

func (f *fakeAlerter) Alert(ctx context.Context, tx *model.Transaction) error {
	f.got = append(f.got, tx)
	return f.err
}

type sessionChunk struct {
	dir  model.Direction
	data string
}

type fakeSessions struct {
	chunks []sessionChunk
}

func (f *fakeSessions) WriteSession(conn model.ConnInfo, dir model.Direction, data []byte) error {
	f.chunks = append(f.chunks, sessionChunk{dir: dir, data: string(data)})
	return nil
}

var testConn = model.ConnInfo{ClientIP: "192.168.1.10", ClientPort: 51000, ServerIP: "10.0.0.1", ServerPort: 80}

func newExchange() *model.Exchange {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &model.Exchange{
		Conn: testConn,
		Request: &model.HTTPRequest{
			Method:  "GET",
			URI:     "/downloads/setup.exe",
			Version: "1.1",
			Headers: http.Header{
				"Host":       {"example.com"},
				"Referer":    {"http://example.com/"},
				"User-Agent": {"curl/8.0"},
				"Via":        {"1.1 proxy"},
			},
			Raw: []byte("GET /downloads/setup.exe HTTP/1.1\r\nHost: example.com\r\n\r\n"),
		},
		Response: &model.HTTPResponse{
			Status:  "200",
			Reason:  "OK",
			Version: "1.1",
			Headers: http.Header{
				"Content-Type":  {"application/octet-stream"},
				"Last-Modified": {"Wed, 21 Oct 2015 07:28:00 GMT"},
			},
			Body: []byte("MZ\x90\x00payload\x00\x00\x00"),
			Raw:  []byte("HTTP/1.1 200 OK\r\n\r\nMZ"),
		},
		RequestTime:  now,
		ResponseTime: now.Add(50 * time.Millisecond),
	}
}

func TestBuild_FullExchange(t *testing.T) {
	d := New(Config{MaxURILen: 0, DigestEnabled: true, ColorEnabled: true}, nil, nil, nil)
	tx := d.Build(newExchange())

	if tx.Host != "example.com" {
		t.Errorf("Expected host example.com, got %q", tx.Host)
	}
	if tx.Status != "200" || tx.Reason != "OK" {
		t.Errorf("Expected 200 OK, got %q %q", tx.Status, tx.Reason)
	}
	if tx.Redirect != "" {
		t.Errorf("Expected no redirect, got %q", tx.Redirect)
	}
	if tx.LastModified != "2015-10-21 07:28:00" {
		t.Errorf("Unexpected last-modified %q", tx.LastModified)
	}
	if tx.Referer != "http://example.com/" || tx.UserAgent != "curl/8.0" || tx.Via != "1.1 proxy" {
		t.Errorf("Unexpected request headers: %q %q %q", tx.Referer, tx.UserAgent, tx.Via)
	}
	if tx.Classification != model.LabelExecutable {
		t.Errorf("Expected executable, got %s", tx.Classification)
	}
	if tx.ResponseSize != len("MZ\x90\x00payload") {
		t.Errorf("Expected null-stripped size, got %d", tx.ResponseSize)
	}
	if tx.MD5 != Digest([]byte("MZ\x90\x00payload")) {
		t.Errorf("Unexpected md5 %q", tx.MD5)
	}
	if tx.ResponseFile == nil || tx.ResponseFile.Name != "/downloads/setup.exe" {
		t.Fatalf("Expected response artifact named after URI, got %+v", tx.ResponseFile)
	}
	if tx.UploadFile != nil {
		t.Errorf("Expected no upload artifact for GET")
	}
	wantReq := "GET example.com/downloads/setup.exe HTTP/1.1"
	if tx.RequestInfo != wantReq {
		t.Errorf("Expected request info %q, got %q", wantReq, tx.RequestInfo)
	}
	if tx.ResponseInfo != "200 OK  2015-10-21 07:28:00" {
		t.Errorf("Unexpected response info %q", tx.ResponseInfo)
	}
	if !strings.HasPrefix(tx.Summary, wantReq+strings.Repeat(" ", 80-len(wantReq))+" // ") {
		t.Errorf("Unexpected summary %q", tx.Summary)
	}
}

func TestBuild_OptionsDisabled(t *testing.T) {
	d := New(Config{}, nil, nil, nil)
	tx := d.Build(newExchange())
	if tx.MD5 != "" {
		t.Errorf("Expected no digest when disabled, got %q", tx.MD5)
	}
	if tx.Classification != model.LabelDefault {
		t.Errorf("Expected default label when color disabled, got %s", tx.Classification)
	}
}

func TestBuild_URITruncation(t *testing.T) {
	ex := newExchange()
	ex.Request.URI = "/" + strings.Repeat("a", 100)

	tx := New(Config{MaxURILen: 30}, nil, nil, nil).Build(ex)
	want := "GET example.com" + ex.Request.URI[:30] + "[truncated] HTTP/1.1"
	if tx.RequestInfo != want {
		t.Errorf("Expected %q, got %q", want, tx.RequestInfo)
	}
	if tx.URI != ex.Request.URI {
		t.Errorf("Record URI must stay complete")
	}

	tx = New(Config{MaxURILen: 0}, nil, nil, nil).Build(ex)
	if strings.Contains(tx.RequestInfo, "[truncated]") {
		t.Errorf("MaxURILen=0 must not truncate: %q", tx.RequestInfo)
	}

	ex.Request.URI = "/short"
	tx = New(Config{MaxURILen: 30}, nil, nil, nil).Build(ex)
	if strings.Contains(tx.RequestInfo, "[truncated]") {
		t.Errorf("Short URI must not be truncated: %q", tx.RequestInfo)
	}
}

func TestBuild_NoResponse(t *testing.T) {
	ex := newExchange()
	ex.Response = nil
	ex.ResponseTime = time.Time{}
	delete(ex.Request.Headers, "Host")

	tx := New(Config{DigestEnabled: true, ColorEnabled: true}, nil, nil, nil).Build(ex)
	if tx.Host != testConn.ServerIP {
		t.Errorf("Expected fallback host %s, got %q", testConn.ServerIP, tx.Host)
	}
	if tx.Status != "" || tx.Reason != "" || tx.ContentType != "" || tx.MD5 != "" || tx.LastModified != "" {
		t.Errorf("Expected empty response fields, got %+v", tx)
	}
	if tx.ResponseSize != 0 || tx.ResponseFile != nil {
		t.Errorf("Expected no response size/artifact")
	}
	if tx.ResponseInfo != "" {
		t.Errorf("Expected empty response info, got %q", tx.ResponseInfo)
	}
	if !strings.HasSuffix(tx.Summary, " // ") {
		t.Errorf("Unexpected summary %q", tx.Summary)
	}
}

func TestBuild_MalformedResponse(t *testing.T) {
	ex := newExchange()
	ex.Response = &model.HTTPResponse{Body: []byte("<html>")}

	tx := New(Config{DigestEnabled: true}, nil, nil, nil).Build(ex)
	if tx.Status != "" || tx.Reason != "" {
		t.Errorf("Expected empty status/reason, got %q %q", tx.Status, tx.Reason)
	}
	if tx.Host != "example.com" || tx.UserAgent != "curl/8.0" {
		t.Errorf("Request fields must still be populated: %+v", tx)
	}
	if tx.ResponseSize != 6 || tx.MD5 == "" {
		t.Errorf("Body-derived fields must still be populated: size=%d md5=%q", tx.ResponseSize, tx.MD5)
	}
}

func TestBuild_Redirect(t *testing.T) {
	ex := newExchange()
	ex.Response = &model.HTTPResponse{
		Status:  "302",
		Reason:  "Found",
		Headers: http.Header{"Location": {"http://evil.example/next"}},
	}
	tx := New(Config{}, nil, nil, nil).Build(ex)
	if tx.Redirect != "-> http://evil.example/next" {
		t.Errorf("Unexpected redirect %q", tx.Redirect)
	}
	if tx.ResponseInfo != "302 Found -> http://evil.example/next " {
		t.Errorf("Unexpected response info %q", tx.ResponseInfo)
	}

	ex.Response.Status = "200"
	if tx := New(Config{}, nil, nil, nil).Build(ex); tx.Redirect != "" {
		t.Errorf("Location outside 3xx must be ignored, got %q", tx.Redirect)
	}

	ex.Response.Status = "30x"
	if tx := New(Config{}, nil, nil, nil).Build(ex); tx.Redirect == "" {
		t.Errorf("Two-character 30 prefix is treated as redirect")
	}
}

func TestBuild_Upload(t *testing.T) {
	ex := newExchange()
	ex.Request.Method = "POST"
	ex.Request.Body = []byte("Content-Type: text/plain\r\nContent-Disposition: form-data; filename=\"a.txt\"\r\n\r\nhello")

	tx := New(Config{}, nil, nil, nil).Build(ex)
	if tx.UploadFile == nil {
		t.Fatal("Expected upload artifact")
	}
	if tx.UploadFile.Name != "a.txt" || string(tx.UploadFile.Data) != "hello" || tx.UploadFile.Size != 5 {
		t.Errorf("Unexpected upload artifact %+v", tx.UploadFile)
	}

	ex.Request.Body = nil
	if tx := New(Config{}, nil, nil, nil).Build(ex); tx.UploadFile != nil {
		t.Errorf("Empty POST body must not produce an upload artifact")
	}
}

func TestBuild_FormPostWithoutFilename(t *testing.T) {
	ex := newExchange()
	ex.Request.Method = "POST"
	ex.Request.Body = []byte("user=admin&pass=hunter2")

	tx := New(Config{}, nil, nil, nil).Build(ex)
	if tx.UploadFile == nil {
		t.Fatal("Expected upload artifact for a form body")
	}
	if tx.UploadFile.Name != "" || string(tx.UploadFile.Data) != "user=admin&pass=hunter2" {
		t.Errorf("Unexpected upload artifact %+v", tx.UploadFile)
	}
}

func TestBuild_NilRequestHeaders(t *testing.T) {
	ex := &model.Exchange{Conn: testConn, Request: &model.HTTPRequest{Method: "GET", URI: "/", Version: "1.0"}}
	tx := New(Config{}, nil, nil, nil).Build(ex)
	if tx.Host != testConn.ServerIP {
		t.Errorf("Expected fallback host, got %q", tx.Host)
	}
}

func TestHandle_EmitsOnceAndWritesSessions(t *testing.T) {
	out := &fakeAlerter{}
	sessions := &fakeSessions{}
	d := New(Config{}, out, sessions, nil)

	ex := newExchange()
	if err := d.Handle(context.Background(), ex); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(out.got) != 1 {
		t.Fatalf("Expected exactly one record, got %d", len(out.got))
	}
	if len(sessions.chunks) != 2 {
		t.Fatalf("Expected 2 session chunks, got %d", len(sessions.chunks))
	}
	if sessions.chunks[0].dir != model.DirectionClientToServer || sessions.chunks[0].data != string(ex.Request.Raw) {
		t.Errorf("Unexpected request chunk %+v", sessions.chunks[0])
	}
	if sessions.chunks[1].dir != model.DirectionServerToClient {
		t.Errorf("Unexpected response chunk %+v", sessions.chunks[1])
	}

	ex.Response = nil
	sessions.chunks = nil
	if err := d.Handle(context.Background(), ex); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(out.got) != 2 {
		t.Errorf("Expected a record for the unanswered request too")
	}
	if len(sessions.chunks) != 1 {
		t.Errorf("Expected only the request chunk, got %d", len(sessions.chunks))
	}
}

func TestHandle_SinkError(t *testing.T) {
	out := &fakeAlerter{err: errors.New("boom")}
	sessions := &fakeSessions{}
	d := New(Config{}, out, sessions, nil)

	if err := d.Handle(context.Background(), newExchange()); err == nil {
		t.Fatal("Expected sink error to be returned")
	}
	if len(sessions.chunks) != 2 {
		t.Errorf("Session capture must not depend on the sink result")
	}
}
