package validator

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
)

// minSubstantiveLength 短于该长度的有效消息可能被误判
const minSubstantiveLength = 10

var ErrValidationFailed = errors.New("report validation failed")

func result(errs, warnings []string) report.ValidationResult {
	if errs == nil {
		errs = []string{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	return report.ValidationResult{IsValid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// ValidateMessages 检查簇中是否混入无实质内容的消息，以及消息总数是否一致
func ValidateMessages(r *report.Report) report.ValidationResult {
	var errs, warnings []string

	total := 0
	for _, cluster := range r.Clusters {
		total += len(cluster.Messages)
		for _, msg := range cluster.Messages {
			if !msg.IsSubstantive {
				errs = append(errs, fmt.Sprintf("Non-substantive message found in cluster %q: %q",
					cluster.Topic, report.Truncate(msg.Content, 53)))
				continue
			}
			if utf8.RuneCountInString(msg.Content) < minSubstantiveLength {
				warnings = append(warnings, fmt.Sprintf("Suspiciously short substantive message in cluster %q: %q",
					cluster.Topic, msg.Content))
			}
		}
	}

	if total != r.Statistics.TotalMessages {
		warnings = append(warnings, fmt.Sprintf("Message count mismatch: clusters have %d messages, statistics show %d",
			total, r.Statistics.TotalMessages))
	}
	return result(errs, warnings)
}

// ValidateStatistics 检查统计数据的一致性
func ValidateStatistics(stats report.ReportStatistics) report.ValidationResult {
	var errs, warnings []string

	if stats.TotalMessages < 0 {
		errs = append(errs, "totalMessages cannot be negative")
	}
	if stats.NonSubstantiveCount < 0 {
		errs = append(errs, "nonSubstantiveCount cannot be negative")
	}
	if stats.DateRange.Start.After(stats.DateRange.End) {
		warnings = append(warnings, fmt.Sprintf("Date range is inverted: start (%s) is after end (%s)",
			stats.DateRange.Start.Format("2006-01-02T15:04:05Z07:00"), stats.DateRange.End.Format("2006-01-02T15:04:05Z07:00")))
	}
	if stats.WasSampled && stats.TotalMessages > stats.TotalMessagesBeforeSampling {
		errs = append(errs, fmt.Sprintf("Total messages after sampling (%d) exceeds original count (%d)",
			stats.TotalMessages, stats.TotalMessagesBeforeSampling))
	}

	if stats.TotalMessages > 0 {
		if sum := sumValues(stats.SentimentDistribution); sum != stats.TotalMessages {
			warnings = append(warnings, fmt.Sprintf("Sentiment distribution total (%d) doesn't match total messages (%d)",
				sum, stats.TotalMessages))
		}
		if sum := sumValues(stats.CategoryDistribution); sum != stats.TotalMessages {
			warnings = append(warnings, fmt.Sprintf("Category distribution total (%d) doesn't match total messages (%d)",
				sum, stats.TotalMessages))
		}
	}
	return result(errs, warnings)
}

// ValidateClusters 检查簇的结构
func ValidateClusters(clusters []report.MessageCluster) report.ValidationResult {
	var errs, warnings []string

	var empty []string
	clusterIDs := make(map[string]struct{}, len(clusters))
	messageIDs := make(map[string]struct{})
	duplicateCluster := false
	for _, cluster := range clusters {
		if len(cluster.Messages) == 0 {
			empty = append(empty, cluster.Topic)
		}
		if _, ok := clusterIDs[cluster.ID]; ok {
			duplicateCluster = true
		}
		clusterIDs[cluster.ID] = struct{}{}

		for _, msg := range cluster.Messages {
			if _, ok := messageIDs[msg.ID]; ok {
				errs = append(errs, fmt.Sprintf("Duplicate message ID %q found in cluster %q", msg.ID, cluster.Topic))
			}
			messageIDs[msg.ID] = struct{}{}
		}
		if strings.TrimSpace(cluster.Topic) == "" {
			errs = append(errs, fmt.Sprintf("Cluster %s has no topic name", cluster.ID))
		}
	}

	if duplicateCluster {
		errs = append(errs, "Duplicate cluster IDs found")
	}
	if len(empty) > 0 {
		warnings = append(warnings, fmt.Sprintf("Found %d empty clusters: %s", len(empty), strings.Join(empty, ", ")))
	}
	return result(errs, warnings)
}

// Validate 合并全部检查结果
func Validate(r *report.Report) report.ValidationResult {
	var errs, warnings []string
	for _, v := range []report.ValidationResult{
		ValidateMessages(r),
		ValidateStatistics(r.Statistics),
		ValidateClusters(r.Clusters),
	} {
		errs = append(errs, v.Errors...)
		warnings = append(warnings, v.Warnings...)
	}
	return result(errs, warnings)
}

// Check 在报告生成后执行校验，出现无实质内容的消息时返回 ErrValidationFailed，其余问题只记录日志
func Check(r *report.Report) error {
	messages := ValidateMessages(r)
	if !messages.IsValid {
		logger.Errorf("[Validator] 报告中存在无实质内容的消息: %s", strings.Join(messages.Errors, "; "))
		return fmt.Errorf("%w: %d non-substantive messages found in output", ErrValidationFailed, len(messages.Errors))
	}

	all := Validate(r)
	for _, e := range all.Errors {
		logger.Errorf("[Validator] %s", e)
	}
	for _, w := range all.Warnings {
		logger.Warnf("[Validator] %s", w)
	}

	logger.Infof("[Validator] 校验通过: %d 个簇, %d 条有效消息", len(r.Clusters), r.Statistics.TotalMessages)
	return nil
}

func sumValues(m map[string]int) int {
	sum := 0
	for _, v := range m {
		sum += v
	}
	return sum
}
