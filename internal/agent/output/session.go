package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"webtriage/pkg/model"
)

// SessionWriter 把原始报文按连接和方向顺序写出，每段前有一行头：
//
//	# <cs|sc> <client>:<port> -> <server>:<port> <len>
type SessionWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

func NewSessionWriter(w io.Writer) *SessionWriter {
	return &SessionWriter{w: bufio.NewWriter(w)}
}

func OpenSessionFile(path string) (*SessionWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开会话文件失败：%w", err)
	}
	s := NewSessionWriter(f)
	s.closer = f
	return s, nil
}

func (s *SessionWriter) WriteSession(conn model.ConnInfo, dir model.Direction, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, "# %s %s:%d -> %s:%d %d\n",
		dir, conn.ClientIP, conn.ClientPort, conn.ServerIP, conn.ServerPort, len(data)); err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *SessionWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
