package daykey

import (
	"fmt"
	"time"
)

// Clock 固定时区的日历时钟
// 所有按天重置的逻辑（签到、游客限额）都通过它取"今天"，避免各处散用 time.Now 导致时区口径不一致
type Clock struct {
	loc *time.Location
}

// NewClock 按时区名创建时钟，如 "Asia/Shanghai"
func NewClock(timezone string) (*Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("加载时区失败: %w", err)
	}
	return &Clock{loc: loc}, nil
}

// MustNewClock 创建失败直接 panic，用于启动阶段
func MustNewClock(timezone string) *Clock {
	c, err := NewClock(timezone)
	if err != nil {
		panic(err)
	}
	return c
}

// Now 当前时刻（固定时区）
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Today 今天的日期键，格式 yyyy-MM-dd
func (c *Clock) Today() string {
	return c.Now().Format("2006-01-02")
}

// SecondsUntilMidnight 距下一个零点的秒数，最小返回 1，保证 TTL 合法
func (c *Clock) SecondsUntilMidnight() int64 {
	now := c.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc).AddDate(0, 0, 1)
	seconds := int64(midnight.Sub(now).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
