package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"webtriage/pkg/model"
)

type Client struct {
	url    string
	client *http.Client
}

func NewClient(serverIP string, serverPort int, timeout time.Duration) *Client {
	return &Client{
		url: fmt.Sprintf("http://%s:%d/api/v1/upload", serverIP, serverPort),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Alert 让 Client 可以直接作为解码器的输出端。
func (c *Client) Alert(ctx context.Context, tx *model.Transaction) error {
	return c.Upload(ctx, tx)
}

// Upload 上报一条交易记录。服务端只保存文件名和大小，文件内容不上传。
func (c *Client) Upload(ctx context.Context, tx *model.Transaction) error {
	body, err := json.Marshal(withoutArtifactData(tx))
	if err != nil {
		return fmt.Errorf("序列化 JSON 失败：%w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 HTTP 请求失败：%w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST 上报失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST 上报失败：status=%s", resp.Status)
	}
	return nil
}

func withoutArtifactData(tx *model.Transaction) *model.Transaction {
	out := *tx
	if tx.ResponseFile != nil {
		out.ResponseFile = &model.Artifact{Name: tx.ResponseFile.Name, Size: tx.ResponseFile.Size}
	}
	if tx.UploadFile != nil {
		out.UploadFile = &model.Artifact{Name: tx.UploadFile.Name, Size: tx.UploadFile.Size}
	}
	return &out
}
