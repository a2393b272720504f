/*
 * @Description: cron 表达式解析
 * @Author: 安知鱼
 * @Date: 2025-07-12 16:09:46
 * @LastEditTime: 2026-02-19 10:30:55
 * @LastEditors: 安知鱼
 */
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anzhiyu-c/anheyu-mpflow/pkg/constant"
)

// specParser 标准 5 段表达式，同时兼容带秒的 6 段写法与 @every 描述符
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSpec 校验任务的 cron 表达式
func ParseSpec(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron 表达式为空: %w", constant.ErrBadRequest)
	}
	s, err := specParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron 表达式 %q 无效: %v: %w", expr, err, constant.ErrBadRequest)
	}
	return s, nil
}

// every 系统周期任务使用的 @every 表达式
func every(d time.Duration) string {
	return "@every " + d.String()
}

// NextRuns 预览接下来 n 次触发时间，供管理接口展示
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	s, err := ParseSpec(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = s.Next(t)
		out = append(out, t)
	}
	return out, nil
}
