package engine

import (
	"sync"
	"time"

	"dtu-telemetry/internal/models"
)

// RuleCache 启用规则的内存镜像
// 评估路径只读这里，不触达持久层；写路径由规则服务维护一致性
type RuleCache struct {
	mu    sync.RWMutex
	rules map[string]*models.AlarmRule
}

// NewRuleCache 创建规则缓存
func NewRuleCache() *RuleCache {
	return &RuleCache{
		rules: make(map[string]*models.AlarmRule),
	}
}

// Put 插入或覆盖一条规则
func (c *RuleCache) Put(rule *models.AlarmRule) {
	if rule == nil {
		return
	}
	copied := *rule
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[copied.ID] = &copied
}

// Remove 按 ID 移除规则
func (c *RuleCache) Remove(ruleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rules, ruleID)
}

// Get 按 ID 读取规则副本
func (c *RuleCache) Get(ruleID string) (models.AlarmRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rule, ok := c.rules[ruleID]
	if !ok {
		return models.AlarmRule{}, false
	}
	return *rule, true
}

// Snapshot 返回全部规则的副本列表
func (c *RuleCache) Snapshot() []models.AlarmRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rules := make([]models.AlarmRule, 0, len(c.rules))
	for _, rule := range c.rules {
		rules = append(rules, *rule)
	}
	return rules
}

// ReplaceAll 全量替换缓存内容（规则缓存刷新）
func (c *RuleCache) ReplaceAll(rules []models.AlarmRule) {
	fresh := make(map[string]*models.AlarmRule, len(rules))
	for i := range rules {
		copied := rules[i]
		fresh[copied.ID] = &copied
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = fresh
}

// Len 当前缓存的规则数量
func (c *RuleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}

// RecordTrigger 同步缓存内规则的触发统计
func (c *RuleCache) RecordTrigger(ruleID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rule, ok := c.rules[ruleID]; ok {
		rule.TriggerCount++
		t := at
		rule.LastTriggeredAt = &t
	}
}
