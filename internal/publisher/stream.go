package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dtu-telemetry/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamPublisher 把新建报警投递到 Redis Streams
// 通知分发（短信/邮件/推送）是该流的外部消费者，不在本服务内
type StreamPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewStreamPublisher 创建流投递器
func NewStreamPublisher(client *redis.Client, stream string, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// PublishAlarm 以 JSON 信封发布一条报警
func (p *StreamPublisher) PublishAlarm(ctx context.Context, alarm *models.Alarm) error {
	if alarm == nil {
		return fmt.Errorf("alarm is required")
	}

	jsonData, err := json.Marshal(alarm)
	if err != nil {
		return fmt.Errorf("failed to marshal alarm: %w", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data":      string(jsonData),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish alarm to stream: %w", err)
	}

	p.logger.Debug("Alarm published to stream",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("alarm_id", alarm.ID),
	)
	return nil
}
