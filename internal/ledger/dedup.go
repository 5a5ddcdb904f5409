package ledger

import (
	"fmt"
	"strings"

	"github.com/pwava/databaseattendacetracker/internal/domain"
)

// KeyMode 去重键的时间粒度
// 与总账自身存键的方式对齐：有精确时间戳的按分钟比较，否则按日历日期比较
type KeyMode int

const (
	KeyByDate KeyMode = iota
	KeyByMinute
)

// DedupIndex 一次运行的去重索引
// 从总账现有行一次性建键集（O(n)），之后每个候选 O(1) 判断
type DedupIndex struct {
	mode          KeyMode
	withEventName bool // 非周期性活动：键中带活动名
	keys          map[string]struct{}
}

// NewDedupIndex 从总账现有事件构建去重索引
// withEventName 对活动总账为 true（键 = 姓名+活动名+日期），主日总账为 false
func NewDedupIndex(existing []domain.AttendanceEvent, mode KeyMode, withEventName bool) *DedupIndex {
	d := &DedupIndex{
		mode:          mode,
		withEventName: withEventName,
		keys:          make(map[string]struct{}, len(existing)),
	}
	for _, ev := range existing {
		if key, err := d.Key(ev); err == nil {
			d.keys[key] = struct{}{}
		}
	}
	return d
}

// Key 计算事件的去重键；姓名或日期不可用时返回 ErrInvalidInput
func (d *DedupIndex) Key(ev domain.AttendanceEvent) (string, error) {
	norm := domain.NormalizeName(ev.FullName)
	if norm == "" {
		return "", fmt.Errorf("event without name: %w", domain.ErrInvalidInput)
	}
	if ev.EventDate.IsZero() {
		return "", fmt.Errorf("event without usable date: %w", domain.ErrInvalidInput)
	}

	var when string
	if d.mode == KeyByMinute {
		when = ev.EventDate.Format("2006-01-02 15:04")
	} else {
		when = ev.EventDate.Format("2006-01-02")
	}

	if d.withEventName {
		return norm + "|" + strings.ToLower(strings.TrimSpace(ev.EventName)) + "|" + when, nil
	}
	return norm + "|" + when, nil
}

// ShouldInsert 判断候选事件是否尚未入账
// 键不可用的候选一律拒绝（调用方计入 skipped），绝不中断批次
func (d *DedupIndex) ShouldInsert(ev domain.AttendanceEvent) bool {
	key, err := d.Key(ev)
	if err != nil {
		return false
	}
	_, exists := d.keys[key]
	return !exists
}

// Add 将已接受的事件加入键集，使同一批次内的重复提交也能被拦住
func (d *DedupIndex) Add(ev domain.AttendanceEvent) {
	if key, err := d.Key(ev); err == nil {
		d.keys[key] = struct{}{}
	}
}
