package domain

import "time"

// 总账类型：主日聚会 / 活动
const (
	LedgerService = "service"
	LedgerEvent   = "event"
)

// AttendanceEvent 考勤事件：某人在某个日期出席了一次聚会或活动
// 只追加、不修改、不删除；(规范化姓名, 日期) 或 (规范化姓名, 活动名, 日期) 为天然去重键
type AttendanceEvent struct {
	PersonID   int       `db:"person_id"`
	FullName   string    `db:"full_name"`
	EventName  string    `db:"event_name"` // 主日聚会可为空
	EventID    string    `db:"event_id"`
	EventDate  time.Time `db:"event_date"`
	Role       string    `db:"role"` // 角色/备注，志愿者标记来自此字段
	RecordedAt time.Time `db:"recorded_at"`
	Ledger     string    `db:"ledger"` // LedgerService 或 LedgerEvent
}

// 活跃度分级
const (
	ActivityCore     = "Core"
	ActivityActive   = "Active"
	ActivityInactive = "Inactive"
	ActivityArchive  = "Archive" // 超过 12 个月未出席，优先于计数分级
)

// AttendanceAggregate 每人考勤聚合（派生数据，每次运行从总账全量重算）
type AttendanceAggregate struct {
	PersonID               int       `json:"person_id"`
	FullName               string    `json:"full_name"`
	EventsThisMonth        int       `json:"events_this_month"`
	EventsInTrailing       int       `json:"events_in_trailing_window"` // 滚动窗口（默认3个月）
	VolunteerCount         int       `json:"volunteer_count"`           // 当前日历年的志愿者场次
	LastAttendedDate       time.Time `json:"last_attended_date"`
	LastAttendedEventName  string    `json:"last_attended_event_name"`
	TotalEventsAttended    int       `json:"total_events_attended"`
	ActivityLevel          string    `json:"activity_level"`
	PriorCalendarYearCount int       `json:"prior_calendar_year_count"` // 上一日历年出席的不同日期数（仅主日总账）
}

// SubmitResult 批量提交结果：按行计数而不是部分失败时抛错
type SubmitResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}
