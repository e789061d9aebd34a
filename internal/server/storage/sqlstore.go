package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"webtriage/pkg/model"
)

// columns 的顺序同时用于 INSERT 和 SELECT，两边必须一致。
const columns = `
	request_time, response_time,
	client_ip, client_port, server_ip, server_port, pid, extra,
	method, host, uri, status, reason, redirect, lastmodified,
	referer, useragent, via, contenttype, classification, md5, responsesize,
	response_file, response_file_size, upload_file, upload_file_size`

const placeholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

// SQLStore 是基于 database/sql 的通用实现，sqlite 和 duckdb 只是建表语句不同。
type SQLStore struct {
	db  *sql.DB
	ins *sql.Stmt
}

var _ Store = (*SQLStore)(nil)

func OpenSQL(driver, dsn, ddl string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 %s 失败：%w", driver, err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("建表失败：%w", err)
	}
	stmt, err := db.Prepare(`INSERT INTO transactions (` + columns + `) VALUES (` + placeholders + `);`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("准备插入语句失败：%w", err)
	}
	return &SQLStore{db: db, ins: stmt}, nil
}

func (s *SQLStore) Insert(ctx context.Context, tx *model.Transaction) error {
	if tx == nil {
		return fmt.Errorf("交易记录为空")
	}
	var extra string
	if len(tx.Conn.Extra) > 0 {
		b, err := json.Marshal(tx.Conn.Extra)
		if err != nil {
			return fmt.Errorf("序列化 extra 失败：%w", err)
		}
		extra = string(b)
	}
	pid, _ := strconv.Atoi(tx.Conn.Extra[model.ExtraPID])
	respName, respSize := artifactColumns(tx.ResponseFile)
	upName, upSize := artifactColumns(tx.UploadFile)

	_, err := s.ins.ExecContext(ctx,
		nullTime(tx.RequestTime),
		nullTime(tx.ResponseTime),
		tx.Conn.ClientIP,
		tx.Conn.ClientPort,
		tx.Conn.ServerIP,
		tx.Conn.ServerPort,
		pid,
		extra,
		tx.Method,
		tx.Host,
		tx.URI,
		tx.Status,
		tx.Reason,
		tx.Redirect,
		tx.LastModified,
		tx.Referer,
		tx.UserAgent,
		tx.Via,
		tx.ContentType,
		string(tx.Classification),
		tx.MD5,
		tx.ResponseSize,
		respName,
		respSize,
		upName,
		upSize,
	)
	if err != nil {
		return fmt.Errorf("插入失败：%w", err)
	}
	return nil
}

func (s *SQLStore) QueryByIP(ctx context.Context, ip string, limit int) ([]model.Transaction, error) {
	return s.query(ctx, `client_ip = ? OR server_ip = ?`, limit, ip, ip)
}

func (s *SQLStore) QueryByHost(ctx context.Context, host string, limit int) ([]model.Transaction, error) {
	return s.query(ctx, `host = ?`, limit, host)
}

func (s *SQLStore) QueryByPID(ctx context.Context, pid int, limit int) ([]model.Transaction, error) {
	return s.query(ctx, `pid = ?`, limit, pid)
}

func (s *SQLStore) query(ctx context.Context, where string, limit int, args ...any) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+`
FROM transactions
WHERE `+where+`
ORDER BY request_time DESC
LIMIT ?;`, args...)
	if err != nil {
		return nil, fmt.Errorf("查询失败：%w", err)
	}
	defer rows.Close()

	out := make([]model.Transaction, 0, 64)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历结果失败：%w", err)
	}
	return out, nil
}

func scanTransaction(rows *sql.Rows) (model.Transaction, error) {
	var (
		tx                model.Transaction
		reqTime, respTime sql.NullTime
		pid               int
		extra, class      string
		respName, upName  string
		respSize, upSize  int
	)
	if err := rows.Scan(
		&reqTime,
		&respTime,
		&tx.Conn.ClientIP,
		&tx.Conn.ClientPort,
		&tx.Conn.ServerIP,
		&tx.Conn.ServerPort,
		&pid,
		&extra,
		&tx.Method,
		&tx.Host,
		&tx.URI,
		&tx.Status,
		&tx.Reason,
		&tx.Redirect,
		&tx.LastModified,
		&tx.Referer,
		&tx.UserAgent,
		&tx.Via,
		&tx.ContentType,
		&class,
		&tx.MD5,
		&tx.ResponseSize,
		&respName,
		&respSize,
		&upName,
		&upSize,
	); err != nil {
		return tx, fmt.Errorf("读取行失败：%w", err)
	}

	tx.RequestTime = reqTime.Time
	tx.ResponseTime = respTime.Time
	tx.Classification = model.Label(class)
	if extra != "" {
		if err := json.Unmarshal([]byte(extra), &tx.Conn.Extra); err != nil {
			return tx, fmt.Errorf("解析 extra 失败：%w", err)
		}
	}
	if pid != 0 && tx.Conn.Extra[model.ExtraPID] == "" {
		if tx.Conn.Extra == nil {
			tx.Conn.Extra = make(map[string]string, 1)
		}
		tx.Conn.Extra[model.ExtraPID] = strconv.Itoa(pid)
	}
	if respSize > 0 {
		tx.ResponseFile = &model.Artifact{Name: respName, Size: respSize}
	}
	if upSize > 0 {
		tx.UploadFile = &model.Artifact{Name: upName, Size: upSize}
	}
	return tx, nil
}

func (s *SQLStore) Close() error {
	var firstErr error
	if s.ins != nil {
		if err := s.ins.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func artifactColumns(a *model.Artifact) (string, int) {
	if a == nil {
		return "", 0
	}
	return a.Name, a.Size
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
