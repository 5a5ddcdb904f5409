package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwava/databaseattendacetracker/internal/domain"
)

func date(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)
	return d
}

func serviceEvent(t *testing.T, personID int, name, day string) domain.AttendanceEvent {
	t.Helper()
	return domain.AttendanceEvent{
		PersonID:  personID,
		FullName:  name,
		EventDate: date(t, day),
		Ledger:    domain.LedgerService,
	}
}

func TestAggregate_SingleRecentEventIsInactive(t *testing.T) {
	// 总账只有 Jane Doe 2024-01-05 一条；asOf 2024-02-01：
	// 当月 0 次、滚动窗口 1 次（<3 不够 Active），最近出席不足 12 个月
	// 不触发 Archive，归为 Inactive
	events := []domain.AttendanceEvent{
		serviceEvent(t, 1, "Jane Doe", "2024-01-05"),
	}

	aggs := Aggregate(events, date(t, "2024-02-01"), DefaultThresholds())
	require.Len(t, aggs, 1)

	agg := aggs[0]
	assert.Equal(t, 1, agg.PersonID)
	assert.Equal(t, 0, agg.EventsThisMonth)
	assert.Equal(t, 1, agg.EventsInTrailing)
	assert.Equal(t, 1, agg.TotalEventsAttended)
	assert.Equal(t, date(t, "2024-01-05"), agg.LastAttendedDate)
	assert.Equal(t, domain.ActivityInactive, agg.ActivityLevel)
}

func TestAggregate_ArchiveOverridesCoreCount(t *testing.T) {
	// 窗口计数单独看足以 Core，但最近一次出席在 13 个月前：必须 Archive
	asOf := date(t, "2024-06-01")
	var events []domain.AttendanceEvent
	old := date(t, "2023-05-01") // 13 个月前
	for i := 0; i < 20; i++ {
		ev := serviceEvent(t, 1, "Dormant Person", "2023-05-01")
		ev.EventDate = old.AddDate(0, 0, -i*7)
		events = append(events, ev)
	}
	// 人为制造窗口内计数：把事件日期改进窗口是不行的（那样 lastAttended 也会变新），
	// 所以直接断言分级函数的覆盖行为
	assert.Equal(t, domain.ActivityArchive, classify(20, old, asOf, DefaultThresholds()))

	aggs := Aggregate(events, asOf, DefaultThresholds())
	require.Len(t, aggs, 1)
	assert.Equal(t, domain.ActivityArchive, aggs[0].ActivityLevel)
}

func TestAggregate_ActivityTiers(t *testing.T) {
	th := DefaultThresholds()
	asOf := date(t, "2024-06-01")
	recent := date(t, "2024-05-26")

	assert.Equal(t, domain.ActivityCore, classify(12, recent, asOf, th))
	assert.Equal(t, domain.ActivityActive, classify(3, recent, asOf, th))
	assert.Equal(t, domain.ActivityActive, classify(11, recent, asOf, th))
	assert.Equal(t, domain.ActivityInactive, classify(2, recent, asOf, th))
	assert.Equal(t, domain.ActivityInactive, classify(0, time.Time{}, asOf, th))
}

func TestAggregate_TrailingWindowIsRolling(t *testing.T) {
	asOf := date(t, "2024-06-15")
	events := []domain.AttendanceEvent{
		serviceEvent(t, 1, "Jane Doe", "2024-06-02"), // 窗口内
		serviceEvent(t, 1, "Jane Doe", "2024-04-01"), // 窗口内（3 个月滚动）
		serviceEvent(t, 1, "Jane Doe", "2024-03-10"), // 窗口外
		serviceEvent(t, 1, "Jane Doe", "2023-06-20"), // 窗口外
	}

	aggs := Aggregate(events, asOf, DefaultThresholds())
	require.Len(t, aggs, 1)
	assert.Equal(t, 2, aggs[0].EventsInTrailing)
	assert.Equal(t, 4, aggs[0].TotalEventsAttended)
}

func TestAggregate_VolunteerCountCurrentYearOnly(t *testing.T) {
	asOf := date(t, "2024-06-15")
	mk := func(day, role string) domain.AttendanceEvent {
		ev := serviceEvent(t, 1, "Jane Doe", day)
		ev.Role = role
		return ev
	}
	events := []domain.AttendanceEvent{
		mk("2024-01-07", "Greeter VOLUNTEER"),
		mk("2024-02-04", "volunteer - kitchen"),
		mk("2024-03-03", "attendee"),
		mk("2023-11-05", "volunteer"), // 去年，不计
	}

	aggs := Aggregate(events, asOf, DefaultThresholds())
	require.Len(t, aggs, 1)
	assert.Equal(t, 2, aggs[0].VolunteerCount)
}

func TestAggregate_PriorYearCountsDistinctServiceDates(t *testing.T) {
	asOf := date(t, "2024-06-15")
	events := []domain.AttendanceEvent{
		// 上一日历年：同一天两条只算一个日期
		serviceEvent(t, 1, "Jane Doe", "2023-03-05"),
		serviceEvent(t, 1, "Jane Doe", "2023-03-05"),
		serviceEvent(t, 1, "Jane Doe", "2023-04-02"),
		// 活动总账不计入
		{PersonID: 1, FullName: "Jane Doe", EventDate: date(t, "2023-05-07"), Ledger: domain.LedgerEvent},
		// 当年不计入
		serviceEvent(t, 1, "Jane Doe", "2024-01-07"),
	}

	aggs := Aggregate(events, asOf, DefaultThresholds())
	require.Len(t, aggs, 1)
	assert.Equal(t, 2, aggs[0].PriorCalendarYearCount)
}

func TestAggregate_LastAttendedTieBreakIsFirstSeen(t *testing.T) {
	asOf := date(t, "2024-06-15")
	first := domain.AttendanceEvent{
		PersonID: 1, FullName: "Jane Doe", EventName: "Morning Service",
		EventDate: date(t, "2024-06-02"), Ledger: domain.LedgerService,
	}
	second := domain.AttendanceEvent{
		PersonID: 1, FullName: "Jane Doe", EventName: "Evening Service",
		EventDate: date(t, "2024-06-02"), Ledger: domain.LedgerService,
	}

	aggs := Aggregate([]domain.AttendanceEvent{first, second}, asOf, DefaultThresholds())
	require.Len(t, aggs, 1)
	assert.Equal(t, "Morning Service", aggs[0].LastAttendedEventName)
}

func TestAggregate_PureRecompute(t *testing.T) {
	asOf := date(t, "2024-06-15")
	events := []domain.AttendanceEvent{
		serviceEvent(t, 2, "John Smith", "2024-05-05"),
		serviceEvent(t, 1, "Jane Doe", "2024-06-02"),
		serviceEvent(t, 2, "John Smith", "2024-06-09"),
	}

	first := Aggregate(events, asOf, DefaultThresholds())
	second := Aggregate(events, asOf, DefaultThresholds())

	// 相同输入相同输出，且按 person id 排序
	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Equal(t, 1, first[0].PersonID)
	assert.Equal(t, 2, first[1].PersonID)
}
