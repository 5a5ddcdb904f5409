package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pwava/databaseattendacetracker/internal/domain"
	"github.com/pwava/databaseattendacetracker/internal/identity"
	"github.com/pwava/databaseattendacetracker/internal/rowstore"
)

// LoadIdentityEntries 读取一个来源表的 (原始id, 姓名) 行，供身份索引构建
func LoadIdentityEntries(ctx context.Context, store rowstore.Store, spec Spec) (identity.SourceEntries, error) {
	rows, err := store.ReadRows(ctx, spec.Table)
	if err != nil {
		return identity.SourceEntries{}, fmt.Errorf("read %s: %w", spec.Table, domain.ErrSourceUnavailable)
	}

	src := identity.SourceEntries{Name: spec.Table}
	for i := spec.FirstDataRow; i < len(rows); i++ {
		row := rows[i]
		src.Entries = append(src.Entries, identity.Entry{
			RawID:    row.Cell(spec.IDCol),
			FullName: spec.FullName(row.Cell),
		})
	}
	return src, nil
}

// LoadAllIdentitySources 按优先级读取全部身份来源
// 单个来源读取失败时记录日志并继续其余来源——身份解析必须优雅降级而不是中断
func LoadAllIdentitySources(ctx context.Context, store rowstore.Store, specs []Spec, logger *zap.Logger) []identity.SourceEntries {
	sources := make([]identity.SourceEntries, 0, len(specs))
	for _, spec := range specs {
		src, err := LoadIdentityEntries(ctx, store, spec)
		if err != nil {
			logger.Warn("Identity source unavailable, skipping",
				zap.String("table", spec.Table),
				zap.Error(err),
			)
			continue
		}
		sources = append(sources, src)
	}
	return sources
}

// LoadDirectory 读取花名册（权威身份来源）
// id 无效的行跳过：花名册里没有有效数字 id 的条目无法作为身份权威
func LoadDirectory(ctx context.Context, store rowstore.Store, spec Spec) ([]domain.DirectoryEntry, error) {
	rows, err := store.ReadRows(ctx, spec.Table)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", spec.Table, domain.ErrSourceUnavailable)
	}

	var entries []domain.DirectoryEntry
	for i := spec.FirstDataRow; i < len(rows); i++ {
		row := rows[i]
		id, ok := identity.ExtractNumericID(row.Cell(spec.IDCol))
		if !ok {
			continue
		}
		entries = append(entries, domain.DirectoryEntry{
			ID:        id,
			FullName:  strings.TrimSpace(row.Cell(spec.NameCol)),
			FirstName: strings.TrimSpace(row.Cell(spec.FirstNameCol)),
			LastName:  strings.TrimSpace(row.Cell(spec.LastNameCol)),
			Email:     strings.TrimSpace(row.Cell(spec.EmailCol)),
		})
	}
	return entries, nil
}

// LoadLedger 读取一张总账表为考勤事件
// 姓名为空、日期无法解析或 id 无效的行计入 skipped，绝不让坏行中断批次
func LoadLedger(ctx context.Context, store rowstore.Store, spec Spec, logger *zap.Logger) ([]domain.AttendanceEvent, int, error) {
	rows, err := store.ReadRows(ctx, spec.Table)
	if err != nil {
		return nil, 0, fmt.Errorf("read ledger %s: %w", spec.Table, domain.ErrSourceUnavailable)
	}

	var events []domain.AttendanceEvent
	skipped := 0
	for i := spec.FirstDataRow; i < len(rows); i++ {
		row := rows[i]

		fullName := strings.TrimSpace(spec.FullName(row.Cell))
		if domain.NormalizeName(fullName) == "" {
			skipped++
			continue
		}

		date, err := ParseDate(row.Cell(spec.DateCol))
		if err != nil {
			logger.Debug("Skipping ledger row with unusable date",
				zap.String("table", spec.Table),
				zap.Int("row", i),
				zap.Error(err),
			)
			skipped++
			continue
		}

		id, ok := identity.ExtractNumericID(row.Cell(spec.IDCol))
		if !ok {
			skipped++
			continue
		}

		ev := domain.AttendanceEvent{
			PersonID:  id,
			FullName:  fullName,
			EventName: strings.TrimSpace(row.Cell(spec.EventNameCol)),
			EventID:   strings.TrimSpace(row.Cell(spec.EventIDCol)),
			EventDate: date,
			Role:      strings.TrimSpace(row.Cell(spec.RoleCol)),
			Ledger:    spec.Ledger,
		}
		if spec.RecordedAtCol >= 0 {
			if ts, err := ParseDate(row.Cell(spec.RecordedAtCol)); err == nil {
				ev.RecordedAt = ts
			}
		}
		events = append(events, ev)
	}

	return events, skipped, nil
}

// Candidate 待提交的考勤事件候选
// PersonID 可能尚未解析（0），由提交流程统一解析
type Candidate struct {
	Event  domain.AttendanceEvent
	RowIdx int // 来源表中的行号（表单转入时轮询 id 回填用）
}

// LoadWorksheetCandidates 从报名/签到工作表提取勾选了出席的候选事件
// 缺姓名或缺可用日期的行静默排除在提交计数之外，不中断整体提交
func LoadWorksheetCandidates(ctx context.Context, store rowstore.Store, spec Spec, eventName string, logger *zap.Logger) ([]Candidate, int, error) {
	rows, err := store.ReadRows(ctx, spec.Table)
	if err != nil {
		return nil, 0, fmt.Errorf("read worksheet %s: %w", spec.Table, domain.ErrSourceUnavailable)
	}

	var candidates []Candidate
	skipped := 0
	for i := spec.FirstDataRow; i < len(rows); i++ {
		row := rows[i]

		if spec.PresenceCol >= 0 && !ParseChecked(row.Cell(spec.PresenceCol)) {
			continue
		}

		fullName := strings.TrimSpace(spec.FullName(row.Cell))
		if domain.NormalizeName(fullName) == "" {
			skipped++
			continue
		}
		date, err := ParseDate(row.Cell(spec.DateCol))
		if err != nil {
			logger.Debug("Skipping worksheet row with unusable date",
				zap.String("table", spec.Table),
				zap.Int("row", i),
				zap.Error(err),
			)
			skipped++
			continue
		}

		id, _ := identity.ExtractNumericID(row.Cell(spec.IDCol))

		candidates = append(candidates, Candidate{
			Event: domain.AttendanceEvent{
				PersonID:   id,
				FullName:   fullName,
				EventName:  eventName,
				EventDate:  date,
				RecordedAt: time.Now(),
				Ledger:     domain.LedgerService,
			},
			RowIdx: i,
		})
	}

	return candidates, skipped, nil
}

// LoadIntakeCandidates 从表单提交原始数据表提取候选事件
// person id 列由异步流程回填，可能暂时为空；转入流程负责有界等待
func LoadIntakeCandidates(ctx context.Context, store rowstore.Store, spec Spec, logger *zap.Logger) ([]Candidate, int, error) {
	rows, err := store.ReadRows(ctx, spec.Table)
	if err != nil {
		return nil, 0, fmt.Errorf("read intake %s: %w", spec.Table, domain.ErrSourceUnavailable)
	}

	var candidates []Candidate
	skipped := 0
	for i := spec.FirstDataRow; i < len(rows); i++ {
		row := rows[i]

		fullName := strings.TrimSpace(spec.FullName(row.Cell))
		if domain.NormalizeName(fullName) == "" {
			skipped++
			continue
		}
		date, err := ParseDate(row.Cell(spec.DateCol))
		if err != nil {
			logger.Debug("Skipping intake row with unusable date",
				zap.String("table", spec.Table),
				zap.Int("row", i),
				zap.Error(err),
			)
			skipped++
			continue
		}

		id, _ := identity.ExtractNumericID(row.Cell(spec.IDCol))

		ev := domain.AttendanceEvent{
			PersonID:  id,
			FullName:  fullName,
			EventName: strings.TrimSpace(row.Cell(spec.EventNameCol)),
			EventDate: date,
			Ledger:    domain.LedgerEvent,
		}
		if ts, err := ParseDate(row.Cell(spec.RecordedAtCol)); err == nil {
			ev.RecordedAt = ts
		}

		candidates = append(candidates, Candidate{Event: ev, RowIdx: i})
	}

	return candidates, skipped, nil
}
