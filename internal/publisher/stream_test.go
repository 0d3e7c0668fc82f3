package publisher

import (
	"context"
	"encoding/json"
	"testing"

	"dtu-telemetry/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPublisher(t *testing.T) (*StreamPublisher, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewStreamPublisher(client, "dtu:alarms", zap.NewNop()), client
}

func TestStreamPublisher_PublishAlarm(t *testing.T) {
	pub, client := newTestPublisher(t)
	ctx := context.Background()

	alarm := &models.Alarm{
		ID:      "alarm-1",
		RuleID:  "rule-1",
		MAC:     "AA:BB:CC:DD:EE:01",
		PID:     1,
		Type:    models.RuleTypeThreshold,
		Level:   models.AlarmLevelCritical,
		Message: "temp=85 out of range [0, 80]",
		Status:  models.AlarmStatusActive,
	}
	require.NoError(t, pub.PublishAlarm(ctx, alarm))

	msgs, err := client.XRange(ctx, "dtu:alarms", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	raw, ok := msgs[0].Values["data"].(string)
	require.True(t, ok)
	var got models.Alarm
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "alarm-1", got.ID)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", got.MAC)
	assert.NotEmpty(t, msgs[0].Values["timestamp"])
}

func TestStreamPublisher_PublishAlarm_NilAlarm(t *testing.T) {
	pub, _ := newTestPublisher(t)
	assert.Error(t, pub.PublishAlarm(context.Background(), nil))
}
