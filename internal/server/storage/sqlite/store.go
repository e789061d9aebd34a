package sqlite

import (
	_ "modernc.org/sqlite"

	"webtriage/internal/server/storage"
)

const ddl = `
CREATE TABLE IF NOT EXISTS transactions (
	request_time       TIMESTAMP,
	response_time      TIMESTAMP,
	client_ip          TEXT,
	client_port        INTEGER,
	server_ip          TEXT,
	server_port        INTEGER,
	pid                INTEGER,
	extra              TEXT,
	method             TEXT,
	host               TEXT,
	uri                TEXT,
	status             TEXT,
	reason             TEXT,
	redirect           TEXT,
	lastmodified       TEXT,
	referer            TEXT,
	useragent          TEXT,
	via                TEXT,
	contenttype        TEXT,
	classification     TEXT,
	md5                TEXT,
	responsesize       INTEGER,
	response_file      TEXT,
	response_file_size INTEGER,
	upload_file        TEXT,
	upload_file_size   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tx_client_ip ON transactions(client_ip);
CREATE INDEX IF NOT EXISTS idx_tx_server_ip ON transactions(server_ip);
CREATE INDEX IF NOT EXISTS idx_tx_host      ON transactions(host);
CREATE INDEX IF NOT EXISTS idx_tx_pid       ON transactions(pid);
`

type Store struct {
	*storage.SQLStore
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "./transactions.sqlite"
	}
	s, err := storage.OpenSQL("sqlite", path, ddl)
	if err != nil {
		return nil, err
	}
	return &Store{SQLStore: s}, nil
}
