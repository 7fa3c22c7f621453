package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPeriod 无法解析的目标周期
var ErrInvalidPeriod = errors.New("invalid period")

// Period 同步的目标周期：具体某年某月，或者全部
type Period struct {
	all   bool
	year  int
	month time.Month
}

// AllPeriods 不限制周期
func AllPeriods() Period {
	return Period{all: true}
}

// MonthPeriod 指定年月
func MonthPeriod(year int, month time.Month) Period {
	return Period{year: year, month: month}
}

// CurrentPeriod 当前月份
func CurrentPeriod(now time.Time) Period {
	return MonthPeriod(now.Year(), now.Month())
}

// PreviousPeriod 上一个月
func PreviousPeriod(now time.Time) Period {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	prev := firstOfMonth.AddDate(0, 0, -1)
	return MonthPeriod(prev.Year(), prev.Month())
}

// IsAll 是否为全部周期
func (p Period) IsAll() bool {
	return p.all
}

// Year 年份（全部周期时为 0）
func (p Period) Year() int {
	return p.year
}

// Month 月份（全部周期时为 0）
func (p Period) Month() time.Month {
	return p.month
}

// Matches 判断时间是否落在周期内
func (p Period) Matches(t time.Time) bool {
	if p.all {
		return true
	}
	return t.Year() == p.year && t.Month() == p.month
}

// String 返回 "all" 或 "YYYY-MM"
func (p Period) String() string {
	if p.all {
		return "all"
	}
	return fmt.Sprintf("%04d-%02d", p.year, int(p.month))
}

// ParsePeriodChoice 解析操作员输入：prev / cur / all / YYYY-MM，空输入等同 prev
func ParsePeriodChoice(input string, now time.Time) (Period, error) {
	choice := strings.ToLower(strings.TrimSpace(input))

	switch choice {
	case "", "prev":
		return PreviousPeriod(now), nil
	case "cur":
		return CurrentPeriod(now), nil
	case "all":
		return AllPeriods(), nil
	}

	t, err := time.Parse("2006-01", choice)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, input)
	}
	return MonthPeriod(t.Year(), t.Month()), nil
}
