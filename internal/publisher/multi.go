package publisher

import (
	"context"
	"fmt"
	"strings"

	"dtu-telemetry/internal/models"
)

// AlarmPublisher 报警投递出口
type AlarmPublisher interface {
	PublishAlarm(ctx context.Context, alarm *models.Alarm) error
}

// Multi 依次调用多个投递出口，单个失败不阻断其余出口
type Multi struct {
	publishers []AlarmPublisher
}

// NewMulti 组合多个投递出口，nil 成员会被忽略
func NewMulti(publishers ...AlarmPublisher) *Multi {
	m := &Multi{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// PublishAlarm 向所有出口投递，返回聚合后的错误
func (m *Multi) PublishAlarm(ctx context.Context, alarm *models.Alarm) error {
	var errs []string
	for _, p := range m.publishers {
		if err := p.PublishAlarm(ctx, alarm); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish alarm: %s", strings.Join(errs, "; "))
	}
	return nil
}
