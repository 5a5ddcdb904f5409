package domain

import "time"

// EventFlag 按事件行计算的跟进标记
type EventFlag struct {
	PersonID      int       `json:"person_id"`
	FullName      string    `json:"full_name"`
	EventDate     time.Time `json:"event_date"`
	FirstTime     bool      `json:"first_time"`      // 该姓名在整个总账中仅出现一次
	NeedsFollowUp bool      `json:"needs_follow_up"` // 距该人最近一次出席超过阈值
}

// GuestTag 按人计算的访客标记（每次运行全量覆盖，不留陈旧标记）
type GuestTag struct {
	PersonID int    `json:"person_id"`
	FullName string `json:"full_name"`
	Guest    bool   `json:"guest"` // 规范化姓名不在花名册中
}

// FlagReport 一次标记计算的完整输出
type FlagReport struct {
	Events []EventFlag `json:"events"`
	Guests []GuestTag  `json:"guests"`
}
