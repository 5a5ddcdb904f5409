package stats

import (
	"time"

	"github.com/pwava/databaseattendacetracker/internal/domain"
)

// ComputeFlags 计算跟进与访客标记
//
// 首次出席标记按事件行给出：当且仅当该姓名在整个总账中总共出现一次。
// 注意这不是"该人时间线上最早的一次"——出现过两次的人两行都不标记，
// 哪怕其中一行确实是第一次来。此处保留历史系统的既有口径（详见 DESIGN.md）。
//
// 需要跟进标记同样按事件行给出，但取值只取决于该人全局最近一次出席距 asOf
// 是否达到阈值，因此同一个人的所有行标记一致。
//
// 访客标记按人给出：规范化姓名不在花名册中即为访客；每次运行全量重算并
// 覆盖旧标记，不允许陈旧标记残留。
func ComputeFlags(
	events []domain.AttendanceEvent,
	aggregates []domain.AttendanceAggregate,
	directory []domain.DirectoryEntry,
	asOf time.Time,
	th Thresholds,
) domain.FlagReport {
	// 姓名出现次数（整个总账）
	nameCount := make(map[string]int, len(events))
	for _, ev := range events {
		nameCount[domain.NormalizeName(ev.FullName)]++
	}

	// 每人全局最近一次出席日期
	lastAttended := make(map[int]time.Time, len(aggregates))
	for _, agg := range aggregates {
		lastAttended[agg.PersonID] = agg.LastAttendedDate
	}

	followUpCutoff := asOf.AddDate(0, 0, -th.FollowUpDays)

	report := domain.FlagReport{
		Events: make([]domain.EventFlag, 0, len(events)),
		Guests: make([]domain.GuestTag, 0, len(aggregates)),
	}

	for _, ev := range events {
		norm := domain.NormalizeName(ev.FullName)
		last := lastAttended[ev.PersonID]
		report.Events = append(report.Events, domain.EventFlag{
			PersonID:      ev.PersonID,
			FullName:      ev.FullName,
			EventDate:     ev.EventDate,
			FirstTime:     nameCount[norm] == 1,
			NeedsFollowUp: !last.IsZero() && !last.After(followUpCutoff),
		})
	}

	// 花名册姓名集合
	directoryNames := make(map[string]struct{}, len(directory))
	for _, entry := range directory {
		if norm := domain.NormalizeName(entry.FullName); norm != "" {
			directoryNames[norm] = struct{}{}
		}
	}

	for _, agg := range aggregates {
		_, inDirectory := directoryNames[domain.NormalizeName(agg.FullName)]
		report.Guests = append(report.Guests, domain.GuestTag{
			PersonID: agg.PersonID,
			FullName: agg.FullName,
			Guest:    !inDirectory,
		})
	}

	return report
}
