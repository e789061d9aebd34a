package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"webtriage/pkg/model"
)

const timeLayout = "2006-01-02 15:04:05"

func Run(cfg Config) error {
	rows, err := Query(cfg)
	if err != nil {
		return err
	}
	RenderTable(os.Stdout, rows)
	return nil
}

func Query(cfg Config) ([]model.Transaction, error) {
	u, err := url.Parse(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("server 参数非法：%w", err)
	}
	u.Path = "/api/v1/query"
	q := u.Query()
	switch {
	case cfg.IP != "":
		q.Set("ip", cfg.IP)
	case cfg.Host != "":
		q.Set("host", cfg.Host)
	case cfg.PID > 0:
		q.Set("pid", strconv.Itoa(cfg.PID))
	default:
		return nil, fmt.Errorf("需要指定 ip、host 或 pid")
	}
	if cfg.Limit > 0 {
		q.Set("limit", strconv.Itoa(cfg.Limit))
	}
	u.RawQuery = q.Encode()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("请求失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("查询失败：status=%s body=%s", resp.Status, string(b))
	}

	var rows []model.Transaction
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("解析响应 JSON 失败：%w", err)
	}
	return rows, nil
}

func RenderTable(w io.Writer, rows []model.Transaction) {
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Time", "PID", "Client", "Server", "Method", "Host", "URI", "Status", "Type", "Size", "MD5", "Upload"})
	t.SetAutoWrapText(false)
	t.SetRowLine(false)

	for _, r := range rows {
		var upload string
		if r.UploadFile != nil {
			upload = fmt.Sprintf("%s (%d)", r.UploadFile.Name, r.UploadFile.Size)
		}
		status := r.Status
		if status == "" {
			status = "-"
		}
		t.Append([]string{
			r.RequestTime.Format(timeLayout),
			r.Conn.Extra[model.ExtraPID],
			fmt.Sprintf("%s:%d", r.Conn.ClientIP, r.Conn.ClientPort),
			fmt.Sprintf("%s:%d", r.Conn.ServerIP, r.Conn.ServerPort),
			r.Method,
			r.Host,
			r.URI,
			status,
			string(r.Classification),
			strconv.Itoa(r.ResponseSize),
			r.MD5,
			upload,
		})
	}
	t.Render()
}
