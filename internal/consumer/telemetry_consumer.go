package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"dtu-telemetry/internal/config"
	"dtu-telemetry/internal/ingest"
	"dtu-telemetry/internal/models"
	"dtu-telemetry/internal/mqtt"

	"go.uber.org/zap"
)

// TelemetryConsumer 订阅解码后的遥测主题并交给接入前门
type TelemetryConsumer struct {
	config     *config.Config
	mqttClient *mqtt.Client
	ingestor   *ingest.Ingestor
	logger     *zap.Logger
}

// NewTelemetryConsumer 创建遥测消费者
func NewTelemetryConsumer(
	cfg *config.Config,
	mqttClient *mqtt.Client,
	ingestor *ingest.Ingestor,
	logger *zap.Logger,
) *TelemetryConsumer {
	return &TelemetryConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		ingestor:   ingestor,
		logger:     logger,
	}
}

// Start 启动消费者
func (c *TelemetryConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(c.config.MQTT.Topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("Telemetry consumer started",
		zap.String("topic", c.config.MQTT.Topic),
	)
	return nil
}

// Stop 停止消费者
func (c *TelemetryConsumer) Stop() {
	if err := c.mqttClient.Unsubscribe(c.config.MQTT.Topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("Telemetry consumer stopped")
}

// handleMessage 处理一条遥测消息
// 提交被拒（error）才算处理失败；skip 属正常去重
func (c *TelemetryConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received telemetry message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	var reading models.ParsedReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		c.logger.Error("Failed to unmarshal telemetry message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	result := c.ingestor.Submit(&reading)
	switch result.Status {
	case ingest.StatusError:
		c.logger.Warn("Telemetry submission rejected",
			zap.String("mac", reading.MAC),
			zap.Int("pid", reading.PID),
			zap.String("reason", result.Message),
		)
		return fmt.Errorf("submission rejected: %s", result.Message)
	case ingest.StatusSkip:
		c.logger.Debug("Telemetry submission skipped",
			zap.String("key", reading.DeviceKey()),
		)
	}
	return nil
}
