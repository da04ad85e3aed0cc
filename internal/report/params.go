package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate 解析请求中的时间，支持 RFC3339、日期和毫秒时间戳
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析时间: %q", value)
}

// DateWindow 返回请求覆盖的闭区间，未指定时以 now 为终点向前 DefaultDateRangeDays 天
func (p RequestParams) DateWindow(now time.Time) (time.Time, time.Time, error) {
	end := now
	if p.EndDate != "" {
		t, err := ParseDate(p.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}

	start := end.Add(-DefaultDateRangeDays * 24 * time.Hour)
	if p.StartDate != "" {
		t, err := ParseDate(p.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	return start, end, nil
}

// Validate 检查请求参数，供接入层在创建任务前调用
func (p RequestParams) Validate() error {
	if p.MaxMessages < 0 {
		return fmt.Errorf("maxMessages 必须 >= 0")
	}
	if p.Language != "" && p.Language != LanguageKorean && p.Language != LanguageEnglish {
		return fmt.Errorf("language 必须是 'ko' 或 'en'")
	}
	start, end, err := p.DateWindow(time.Now())
	if err != nil {
		return err
	}
	if p.StartDate != "" && p.EndDate != "" && start.After(end) {
		return fmt.Errorf("startDate 不能晚于 endDate")
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("无效的时区: %s", p.Timezone)
		}
	}
	return nil
}
