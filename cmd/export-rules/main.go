package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"dtu-telemetry/internal/config"
	"dtu-telemetry/internal/engine"
	"dtu-telemetry/internal/models"
	"dtu-telemetry/internal/repository"

	_ "github.com/lib/pq"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// 规则清单导出工具：把 alarm_rules 表导出为 xlsx，供运维核对
func main() {
	output := flag.String("output", "alarm_rules.xlsx", "output xlsx file path")
	enabledOnly := flag.Bool("enabled-only", false, "export enabled rules only")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	repo := repository.NewAlarmRuleRepository(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	filters := engine.RuleFilters{}
	if *enabledOnly {
		enabled := true
		filters.Enabled = &enabled
	}
	rules, err := repo.ListAlarmRules(ctx, filters)
	if err != nil {
		logger.Fatal("Failed to list rules", zap.Error(err))
	}

	if err := writeRulesExcel(*output, rules); err != nil {
		logger.Fatal("Failed to write excel file", zap.Error(err))
	}

	logger.Info("Rules exported",
		zap.String("output", *output),
		zap.Int("rule_count", len(rules)),
	)
}

// writeRulesExcel 生成规则清单工作簿
func writeRulesExcel(path string, rules []models.AlarmRule) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "AlarmRules"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{
		"ID", "Name", "Type", "Level", "Enabled",
		"Protocol", "PID", "Param", "Config",
		"Dedup Window (s)", "Trigger Count", "Last Triggered",
	}
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to build header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return fmt.Errorf("failed to set header: %w", err)
		}
	}

	for i, rule := range rules {
		row := i + 2
		values := []interface{}{
			rule.ID,
			rule.Name,
			string(rule.Type),
			string(rule.Level),
			rule.Enabled,
			strValue(rule.Protocol),
			intValue(rule.PID),
			strValue(rule.ParamName),
			configSummary(&rule),
			rule.DeduplicationWindowSeconds,
			rule.TriggerCount,
			timeValue(rule.LastTriggeredAt),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return fmt.Errorf("failed to build cell: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("failed to set cell: %w", err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

// configSummary 规则判定条件的单元格摘要
func configSummary(rule *models.AlarmRule) string {
	switch rule.Type {
	case models.RuleTypeThreshold:
		if rule.Threshold != nil {
			return fmt.Sprintf("[%g, %g]", rule.Threshold.Min, rule.Threshold.Max)
		}
	case models.RuleTypeConstant:
		if rule.Constant != nil {
			return fmt.Sprintf("%v", rule.Constant.AllowedValues)
		}
	}
	return ""
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intValue(i *int) interface{} {
	if i == nil {
		return ""
	}
	return *i
}

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
