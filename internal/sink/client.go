package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivesentry/internal/models"
)

// Recorder 告警记录上报接口
// 纯遥测路径：失败只记日志，不重试，不影响本地状态机
type Recorder interface {
	Record(record models.AlertRecord)
}

// Client 远端指标服务客户端
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	deviceID   string
}

// NewClient 创建指标客户端，baseURL 为空时所有上报都静默丢弃
func NewClient(logger *zap.Logger, baseURL, deviceID string) *Client {
	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:  baseURL,
		deviceID: deviceID,
	}
}

// Record 异步上报一条告警记录，fire-and-forget
func (c *Client) Record(record models.AlertRecord) {
	if c.baseURL == "" {
		return
	}
	go c.post(record)
}

// post 执行实际的 POST /api/alert-metrics
func (c *Client) post(record models.AlertRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	body, err := json.Marshal(record)
	if err != nil {
		c.logger.Error("Failed to marshal alert record", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/alert-metrics", bytes.NewReader(body))
	if err != nil {
		c.logger.Error("Failed to create alert metrics request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Error sending alert metrics to server", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("Failed to log alert metrics to server",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(respBody)))
	}
}

// Nop 丢弃所有上报的实现，未配置远端服务时使用
type Nop struct{}

func (Nop) Record(models.AlertRecord) {}

var _ Recorder = (*Client)(nil)

// FormatTimestamp ISO8601 时间戳，上报协议统一使用 UTC
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
