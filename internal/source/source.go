package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/pwava/databaseattendacetracker/internal/config"
	"github.com/pwava/databaseattendacetracker/internal/domain"
)

// 来源类型
const (
	KindDirectory = "directory"
	KindLedger    = "ledger"
	KindWorksheet = "worksheet"
	KindIntake    = "intake"
)

// Spec 单个来源表的列约定
// 历史表的数据位置各不相同（有的带表头/标签行），这里显式声明，
// 核心逻辑只面对命名字段，不感知物理布局
type Spec struct {
	Table        string // 逻辑表名
	Kind         string // directory / ledger / worksheet / intake
	Ledger       string // Kind==ledger 时：domain.LedgerService 或 domain.LedgerEvent
	FirstDataRow int    // 首个数据行（0 起始，之前的行为表头/标签）

	IDCol   int // person id 列
	NameCol int // 全名列；为 -1 时使用 FirstNameCol/LastNameCol 拼接

	FirstNameCol int
	LastNameCol  int
	EmailCol     int // -1 表示无邮箱列

	EventNameCol  int // -1 表示无
	EventIDCol    int // -1 表示无
	DateCol       int // -1 表示无日期列
	RoleCol       int // -1 表示无角色/备注列
	RecordedAtCol int // -1 表示无时间戳列
	PresenceCol   int // 工作表的出席勾选列，-1 表示无
}

// FullName 根据列约定取出一行的全名
func (s Spec) FullName(cells func(int) string) string {
	if s.NameCol >= 0 {
		return cells(s.NameCol)
	}
	first := strings.TrimSpace(cells(s.FirstNameCol))
	last := strings.TrimSpace(cells(s.LastNameCol))
	return strings.TrimSpace(first + " " + last)
}

// DefaultSpecs 按配置的表名生成各来源的默认列约定
// 返回顺序与身份来源优先级一致：花名册 > 主日总账 > 活动总账 > 工作表 > 表单原始数据
func DefaultSpecs(tables config.TablesConfig) []Spec {
	specs := []Spec{
		DirectorySpec(tables.Directory),
		ServiceLedgerSpec(tables.ServiceLedger),
		EventLedgerSpec(tables.EventLedger),
	}
	for _, ws := range tables.Worksheets {
		specs = append(specs, WorksheetSpec(ws))
	}
	specs = append(specs, IntakeSpec(tables.FormIntake))
	return specs
}

// OrderByPriority 按配置的表名优先级重排来源列表
// priority 为空时保持默认顺序；非空时按列出顺序排列，未列出的表
// 不参与身份解析（运维显式收窄来源范围）
func OrderByPriority(specs []Spec, priority []string) []Spec {
	if len(priority) == 0 {
		return specs
	}

	byTable := make(map[string][]Spec, len(specs))
	for _, spec := range specs {
		byTable[spec.Table] = append(byTable[spec.Table], spec)
	}

	ordered := make([]Spec, 0, len(specs))
	for _, table := range priority {
		ordered = append(ordered, byTable[table]...)
		delete(byTable, table)
	}
	return ordered
}

// DirectorySpec 花名册：id, full_name, first_name, last_name, email，1 行表头
func DirectorySpec(table string) Spec {
	return Spec{
		Table: table, Kind: KindDirectory, FirstDataRow: 1,
		IDCol: 0, NameCol: 1, FirstNameCol: 2, LastNameCol: 3, EmailCol: 4,
		EventNameCol: -1, EventIDCol: -1, DateCol: -1, RoleCol: -1, RecordedAtCol: -1, PresenceCol: -1,
	}
}

// ServiceLedgerSpec 主日总账：id, full_name, event_name, event_id, date, role, recorded_at，1 行表头
func ServiceLedgerSpec(table string) Spec {
	return Spec{
		Table: table, Kind: KindLedger, Ledger: domain.LedgerService, FirstDataRow: 1,
		IDCol: 0, NameCol: 1, FirstNameCol: -1, LastNameCol: -1, EmailCol: -1,
		EventNameCol: 2, EventIDCol: 3, DateCol: 4, RoleCol: 5, RecordedAtCol: 6, PresenceCol: -1,
	}
}

// EventLedgerSpec 活动总账：与主日总账同构
func EventLedgerSpec(table string) Spec {
	s := ServiceLedgerSpec(table)
	s.Ledger = domain.LedgerEvent
	return s
}

// WorksheetSpec 报名/签到工作表：id, first_name, last_name, presence，2 行表头（标题行+列名行）
func WorksheetSpec(table string) Spec {
	return Spec{
		Table: table, Kind: KindWorksheet, FirstDataRow: 2,
		IDCol: 0, NameCol: -1, FirstNameCol: 1, LastNameCol: 2, EmailCol: -1,
		EventNameCol: -1, EventIDCol: -1, DateCol: 4, RoleCol: -1, RecordedAtCol: -1, PresenceCol: 3,
	}
}

// IntakeSpec 表单提交原始数据：timestamp, full_name, email, person_id(异步回填), event_date, event_name
func IntakeSpec(table string) Spec {
	return Spec{
		Table: table, Kind: KindIntake, FirstDataRow: 1,
		IDCol: 3, NameCol: 1, FirstNameCol: -1, LastNameCol: -1, EmailCol: 2,
		EventNameCol: 5, EventIDCol: -1, DateCol: 4, RoleCol: -1, RecordedAtCol: 0, PresenceCol: -1,
	}
}

// 支持的日期格式，按出现频率排列
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
}

// ParseDate 解析来源表中的日期单元格
// 空白或无法解析时返回错误，由调用方决定跳过该行
func ParseDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", trimmed)
}

// ParseChecked 解析工作表出席勾选单元格
func ParseChecked(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "y", "1", "x", "checked":
		return true
	}
	return false
}
