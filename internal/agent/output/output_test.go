package output

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"webtriage/pkg/model"
)

type stubAlerter struct {
	calls int
	err   error
}

func (s *stubAlerter) Alert(ctx context.Context, tx *model.Transaction) error {
	s.calls++
	return s.err
}

func TestConsole_PlainLine(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)
	tx := &model.Transaction{Summary: "GET example.com/ HTTP/1.1 // 200 OK", Classification: model.LabelArchive}
	if err := c.Alert(context.Background(), tx); err != nil {
		t.Fatalf("Alert failed: %v", err)
	}
	if buf.String() != tx.Summary+"\n" {
		t.Errorf("Unexpected output %q", buf.String())
	}
}

func TestConsole_ColorKeepsSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, true)
	tx := &model.Transaction{Summary: "GET example.com/x.exe HTTP/1.1 // 200 OK", Classification: model.LabelExecutable}
	if err := c.Alert(context.Background(), tx); err != nil {
		t.Fatalf("Alert failed: %v", err)
	}
	if !strings.Contains(buf.String(), tx.Summary) {
		t.Errorf("Summary missing from %q", buf.String())
	}
}

func TestMulti_ContinuesOnError(t *testing.T) {
	a := &stubAlerter{err: errors.New("down")}
	b := &stubAlerter{}
	err := Multi{a, nil, b}.Alert(context.Background(), &model.Transaction{})
	if err == nil {
		t.Error("Expected joined error")
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("Expected every sink to be called once, got %d %d", a.calls, b.calls)
	}
}

func TestSessionWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.txt")
	s, err := OpenSessionFile(path)
	if err != nil {
		t.Fatal(err)
	}
	conn := model.ConnInfo{ClientIP: "192.168.1.10", ClientPort: 5000, ServerIP: "10.0.0.1", ServerPort: 80}
	if err := s.WriteSession(conn, model.DirectionClientToServer, []byte("GET / HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteSession(conn, model.DirectionServerToClient, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "# cs 192.168.1.10:5000 -> 10.0.0.1:80 18\nGET / HTTP/1.1\r\n\r\n\n"
	if string(data) != want {
		t.Errorf("Expected %q, got %q", want, data)
	}
}
