package engine

import (
	"context"
	"fmt"
	"time"

	"dtu-telemetry/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RuleFilters 规则查询过滤条件
type RuleFilters struct {
	Type     *models.RuleType
	Level    *models.AlarmLevel
	Enabled  *bool
	Protocol *string
}

// RuleStore 规则持久化接口
type RuleStore interface {
	CreateAlarmRule(ctx context.Context, rule *models.AlarmRule) error
	UpdateAlarmRule(ctx context.Context, rule *models.AlarmRule) error
	DeleteAlarmRule(ctx context.Context, ruleID string) error
	GetAlarmRule(ctx context.Context, ruleID string) (*models.AlarmRule, error)
	ListAlarmRules(ctx context.Context, filters RuleFilters) ([]models.AlarmRule, error)
	ListEnabledAlarmRules(ctx context.Context) ([]models.AlarmRule, error)
	SetRulesEnabled(ctx context.Context, ruleIDs []string, enabled bool) error
}

// RuleService 规则管理服务
// 持久层为准，内存缓存镜像启用规则；
// 任何使规则生效的变更路径都会同步写入缓存，禁用则移除
type RuleService struct {
	store  RuleStore
	cache  *RuleCache
	logger *zap.Logger
}

// NewRuleService 创建规则管理服务
func NewRuleService(store RuleStore, cache *RuleCache, logger *zap.Logger) *RuleService {
	return &RuleService{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// AddRule 新增规则，启用的规则立即进入缓存
func (s *RuleService) AddRule(ctx context.Context, rule *models.AlarmRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.store.CreateAlarmRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	if rule.Enabled {
		s.cache.Put(rule)
	}

	s.logger.Info("Alarm rule added",
		zap.String("rule_id", rule.ID),
		zap.String("type", string(rule.Type)),
		zap.Bool("enabled", rule.Enabled),
	)
	return nil
}

// UpdateRule 更新规则
// 启用状态无条件写入缓存，禁用状态无条件移除，
// 不存在"已持久化但缓存不可见"的中间态
func (s *RuleService) UpdateRule(ctx context.Context, rule *models.AlarmRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	if err := s.store.UpdateAlarmRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	if rule.Enabled {
		s.cache.Put(rule)
	} else {
		s.cache.Remove(rule.ID)
	}

	s.logger.Info("Alarm rule updated",
		zap.String("rule_id", rule.ID),
		zap.Bool("enabled", rule.Enabled),
	)
	return nil
}

// DeleteRule 删除规则，同时从持久层与缓存移除
func (s *RuleService) DeleteRule(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return fmt.Errorf("rule id is required")
	}

	if err := s.store.DeleteAlarmRule(ctx, ruleID); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	s.cache.Remove(ruleID)

	s.logger.Info("Alarm rule deleted",
		zap.String("rule_id", ruleID),
	)
	return nil
}

// GetRule 按 ID 读取规则
func (s *RuleService) GetRule(ctx context.Context, ruleID string) (*models.AlarmRule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	return s.store.GetAlarmRule(ctx, ruleID)
}

// ListRules 按过滤条件查询规则
func (s *RuleService) ListRules(ctx context.Context, filters RuleFilters) ([]models.AlarmRule, error) {
	return s.store.ListAlarmRules(ctx, filters)
}

// SetRulesEnabled 批量启用/禁用，随后强制全量刷新缓存
func (s *RuleService) SetRulesEnabled(ctx context.Context, ruleIDs []string, enabled bool) error {
	if len(ruleIDs) == 0 {
		return fmt.Errorf("rule ids are required")
	}

	if err := s.store.SetRulesEnabled(ctx, ruleIDs, enabled); err != nil {
		return fmt.Errorf("failed to set rules enabled: %w", err)
	}

	if err := s.RefreshRuleCache(ctx); err != nil {
		return err
	}

	s.logger.Info("Alarm rules toggled",
		zap.Int("count", len(ruleIDs)),
		zap.Bool("enabled", enabled),
	)
	return nil
}

// RefreshRuleCache 从持久层重载全部启用规则
func (s *RuleService) RefreshRuleCache(ctx context.Context) error {
	rules, err := s.store.ListEnabledAlarmRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled rules: %w", err)
	}
	s.cache.ReplaceAll(rules)

	s.logger.Debug("Rule cache refreshed",
		zap.Int("rule_count", len(rules)),
	)
	return nil
}

// validateRule 规则的基本形状校验
func validateRule(rule *models.AlarmRule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}

	switch rule.Type {
	case models.RuleTypeThreshold:
		if rule.ParamName == nil || *rule.ParamName == "" {
			return fmt.Errorf("threshold rule requires param_name")
		}
		if rule.Threshold == nil {
			return fmt.Errorf("threshold rule requires threshold config")
		}
		if rule.Threshold.Min > rule.Threshold.Max {
			return fmt.Errorf("threshold min must not exceed max")
		}
	case models.RuleTypeConstant:
		if rule.ParamName == nil || *rule.ParamName == "" {
			return fmt.Errorf("constant rule requires param_name")
		}
		if rule.Constant == nil || len(rule.Constant.AllowedValues) == 0 {
			return fmt.Errorf("constant rule requires allowed values")
		}
	case models.RuleTypeOffline, models.RuleTypeTimeout, models.RuleTypeCustom:
		// 可配置但不在此管道中评估
	default:
		return fmt.Errorf("unknown rule type: %s", rule.Type)
	}

	if rule.DeduplicationWindowSeconds < 0 {
		return fmt.Errorf("deduplication window must not be negative")
	}
	return nil
}
