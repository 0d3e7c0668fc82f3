package publisher

import (
	"context"
	"fmt"
	"time"

	"dtu-telemetry/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier 把报警 POST 到外部回调地址
// URL 为空时表示未配置，调用方不应创建该实例
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewWebhookNotifier 创建回调通知器
func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	// 只做一次交付尝试，重试策略属于下游通知系统
	client := resty.New().
		SetTimeout(5 * time.Second)

	return &WebhookNotifier{
		client: client,
		url:    url,
		logger: logger,
	}
}

// PublishAlarm 发送报警回调，非 2xx 视为失败
func (n *WebhookNotifier) PublishAlarm(ctx context.Context, alarm *models.Alarm) error {
	if alarm == nil {
		return fmt.Errorf("alarm is required")
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(alarm).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to send alarm webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alarm webhook returned status %d", resp.StatusCode())
	}

	n.logger.Debug("Alarm webhook delivered",
		zap.String("url", n.url),
		zap.String("alarm_id", alarm.ID),
		zap.Int("status", resp.StatusCode()),
	)
	return nil
}
