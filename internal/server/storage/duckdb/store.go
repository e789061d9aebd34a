package duckdb

import (
	_ "github.com/marcboeker/go-duckdb"

	"webtriage/internal/server/storage"
)

const ddl = `
CREATE TABLE IF NOT EXISTS transactions (
	request_time       TIMESTAMP,
	response_time      TIMESTAMP,
	client_ip          VARCHAR,
	client_port        INTEGER,
	server_ip          VARCHAR,
	server_port        INTEGER,
	pid                INTEGER,
	extra              VARCHAR,
	method             VARCHAR,
	host               VARCHAR,
	uri                VARCHAR,
	status             VARCHAR,
	reason             VARCHAR,
	redirect           VARCHAR,
	lastmodified       VARCHAR,
	referer            VARCHAR,
	useragent          VARCHAR,
	via                VARCHAR,
	contenttype        VARCHAR,
	classification     VARCHAR,
	md5                VARCHAR,
	responsesize       BIGINT,
	response_file      VARCHAR,
	response_file_size BIGINT,
	upload_file        VARCHAR,
	upload_file_size   BIGINT
);`

// Store 用 DuckDB 单文件落盘，适合按 IP / Host 做离线分析。
type Store struct {
	*storage.SQLStore
	path string
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "./transactions.duckdb"
	}
	s, err := storage.OpenSQL("duckdb", path, ddl)
	if err != nil {
		return nil, err
	}
	return &Store{SQLStore: s, path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}
