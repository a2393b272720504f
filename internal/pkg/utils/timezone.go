/*
 * @Description: 时区工具 - 统一使用 UTC+8 时区
 * @Author: 安知鱼
 * @Date: 2026-01-15 10:00:00
 * @LastEditTime: 2026-03-04 18:05:12
 * @LastEditors: 安知鱼
 */
package utils

import "time"

// ChinaTimezone 中国标准时间 UTC+8
var ChinaTimezone = time.FixedZone("CST", 8*60*60)

// NowInChina 获取当前中国时间
func NowInChina() time.Time {
	return time.Now().In(ChinaTimezone)
}

// ToChina 将时间转换为中国时区
func ToChina(t time.Time) time.Time {
	return t.In(ChinaTimezone)
}

// StartOfDayInChina 获取指定日期在中国时区的开始时间（00:00:00）
func StartOfDayInChina(t time.Time) time.Time {
	chinaTime := t.In(ChinaTimezone)
	return time.Date(chinaTime.Year(), chinaTime.Month(), chinaTime.Day(), 0, 0, 0, 0, ChinaTimezone)
}

// EndOfDayInChina 获取指定日期在中国时区的结束时间（23:59:59.999999999）
func EndOfDayInChina(t time.Time) time.Time {
	chinaTime := t.In(ChinaTimezone)
	return time.Date(chinaTime.Year(), chinaTime.Month(), chinaTime.Day(), 23, 59, 59, 999999999, ChinaTimezone)
}

// StartOfMonthInChina 中国时区下当月 1 日 00:00:00
func StartOfMonthInChina(t time.Time) time.Time {
	chinaTime := t.In(ChinaTimezone)
	return time.Date(chinaTime.Year(), chinaTime.Month(), 1, 0, 0, 0, 0, ChinaTimezone)
}

// ParseInChina 使用中国时区解析时间字符串
func ParseInChina(layout, value string) (time.Time, error) {
	return time.ParseInLocation(layout, value, ChinaTimezone)
}

// DateKeyInChina 返回中国时区下的日期键，例如 2026-03-04，用于按天计数
func DateKeyInChina(t time.Time) string {
	return t.In(ChinaTimezone).Format("2006-01-02")
}
