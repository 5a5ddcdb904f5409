package stats

import (
	"sort"
	"strings"
	"time"

	"github.com/pwava/databaseattendacetracker/internal/domain"
)

// Thresholds 聚合与标记的阈值参数
type Thresholds struct {
	CoreMin              int    // 滚动窗口内 >= 该值归为 Core
	ActiveMin            int    // 滚动窗口内 >= 该值归为 Active
	TrailingWindowMonths int    // 滚动窗口长度（月）
	ArchiveMonths        int    // 最近一次出席早于该月数归为 Archive（优先于计数分级）
	FollowUpDays         int    // 距最近一次出席 >= 该天数标记需要跟进
	VolunteerMarker      string // 角色/备注中的志愿者标记，大小写不敏感
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		CoreMin:              12,
		ActiveMin:            3,
		TrailingWindowMonths: 3,
		ArchiveMonths:        12,
		FollowUpDays:         30,
		VolunteerMarker:      "volunteer",
	}
}

// Aggregate 从完整事件总账全量重算每人聚合
// 纯重算：不携带任何跨运行状态，相同输入必然得到相同输出；
// 每次运行丢弃旧聚合，从总账重建，聚合永远不会偏离总账
func Aggregate(events []domain.AttendanceEvent, asOf time.Time, th Thresholds) []domain.AttendanceAggregate {
	byPerson := make(map[int]*domain.AttendanceAggregate)
	// 上一日历年每人出席过的不同日期（仅主日总账）
	priorYearDates := make(map[int]map[string]struct{})
	order := make([]int, 0)

	windowStart := asOf.AddDate(0, -th.TrailingWindowMonths, 0)
	marker := strings.ToLower(th.VolunteerMarker)
	priorYear := asOf.Year() - 1

	for _, ev := range events {
		agg, ok := byPerson[ev.PersonID]
		if !ok {
			agg = &domain.AttendanceAggregate{
				PersonID: ev.PersonID,
				FullName: ev.FullName,
			}
			byPerson[ev.PersonID] = agg
			order = append(order, ev.PersonID)
		}

		agg.TotalEventsAttended++

		if ev.EventDate.Year() == asOf.Year() && ev.EventDate.Month() == asOf.Month() {
			agg.EventsThisMonth++
		}
		if ev.EventDate.After(windowStart) && !ev.EventDate.After(asOf) {
			agg.EventsInTrailing++
		}
		if ev.EventDate.Year() == asOf.Year() && marker != "" &&
			strings.Contains(strings.ToLower(ev.Role), marker) {
			agg.VolunteerCount++
		}

		// 最近一次出席：严格更晚才替换，平局保持先见者（确定性）
		if ev.EventDate.After(agg.LastAttendedDate) {
			agg.LastAttendedDate = ev.EventDate
			agg.LastAttendedEventName = ev.EventName
		}

		if ev.Ledger == domain.LedgerService && ev.EventDate.Year() == priorYear {
			dates, ok := priorYearDates[ev.PersonID]
			if !ok {
				dates = make(map[string]struct{})
				priorYearDates[ev.PersonID] = dates
			}
			dates[ev.EventDate.Format("2006-01-02")] = struct{}{}
		}
	}

	result := make([]domain.AttendanceAggregate, 0, len(byPerson))
	for _, personID := range order {
		agg := byPerson[personID]
		agg.PriorCalendarYearCount = len(priorYearDates[personID])
		agg.ActivityLevel = classify(agg.EventsInTrailing, agg.LastAttendedDate, asOf, th)
		result = append(result, *agg)
	}

	// 输出按 person id 排序，保证重复运行字节级一致
	sort.Slice(result, func(i, j int) bool {
		return result[i].PersonID < result[j].PersonID
	})
	return result
}

// classify 活跃度分级
// Archive 覆盖计数分级：最近一次出席早于 asOf 往前 ArchiveMonths 个月时，
// 即使窗口计数达到 Core 也归为 Archive
func classify(trailingCount int, lastAttended, asOf time.Time, th Thresholds) string {
	if !lastAttended.IsZero() && lastAttended.Before(asOf.AddDate(0, -th.ArchiveMonths, 0)) {
		return domain.ActivityArchive
	}
	switch {
	case trailingCount >= th.CoreMin:
		return domain.ActivityCore
	case trailingCount >= th.ActiveMin:
		return domain.ActivityActive
	default:
		return domain.ActivityInactive
	}
}
