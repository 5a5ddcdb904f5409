package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pwava/databaseattendacetracker/internal/domain"
	"github.com/pwava/databaseattendacetracker/internal/identity"
	"github.com/pwava/databaseattendacetracker/internal/intake"
	"github.com/pwava/databaseattendacetracker/internal/ledger"
	"github.com/pwava/databaseattendacetracker/internal/rowstore"
	"github.com/pwava/databaseattendacetracker/internal/source"
	"github.com/pwava/databaseattendacetracker/internal/stats"
)

// runState 一次运行的全部状态（显式构建、显式传递，不做包级全局）
// 身份索引、花名册快照、总账快照在运行开始时建好，运行内各步骤共享，
// 保证同一运行内身份解析确定且稳定
type runState struct {
	specs     []source.Spec
	directory []domain.DirectoryEntry
	index     *identity.Index
	resolver  *identity.Resolver

	serviceEvents []domain.AttendanceEvent
	eventEvents   []domain.AttendanceEvent

	serviceDedup *ledger.DedupIndex
	eventDedup   *ledger.DedupIndex

	skippedLedgerRows int
}

// allEvents 主日总账在前、活动总账在后的合并视图
func (rs *runState) allEvents() []domain.AttendanceEvent {
	out := make([]domain.AttendanceEvent, 0, len(rs.serviceEvents)+len(rs.eventEvents))
	out = append(out, rs.serviceEvents...)
	out = append(out, rs.eventEvents...)
	return out
}

// buildRunState 构建一次运行的状态
// 花名册表名缺失是配置错误，直接上抛；单个身份来源不可读则降级继续
func (s *AttendanceService) buildRunState(ctx context.Context) (*runState, error) {
	tables := s.config.Attendance.Tables
	if tables.Directory == "" {
		return nil, fmt.Errorf("directory table not configured: %w", domain.ErrConfigurationMissing)
	}

	rs := &runState{specs: source.DefaultSpecs(tables)}

	directory, err := source.LoadDirectory(ctx, s.store, source.DirectorySpec(tables.Directory))
	if err != nil {
		// 花名册暂时读不到按来源不可用降级：身份解析退化为按姓名拆分
		s.logger.Warn("Directory unavailable, degrading identity enrichment", zap.Error(err))
	}
	rs.directory = directory

	identitySpecs := source.OrderByPriority(rs.specs, s.config.Attendance.Priority)
	sources := source.LoadAllIdentitySources(ctx, s.store, identitySpecs, s.logger)
	rs.index = identity.BuildIndex(sources)
	rs.resolver = identity.NewResolver(rs.index, rs.directory, s.logger)

	rs.serviceEvents, rs.skippedLedgerRows, err = s.loadLedger(ctx, source.ServiceLedgerSpec(tables.ServiceLedger))
	if err != nil {
		return nil, err
	}
	eventEvents, skipped, err := s.loadLedger(ctx, source.EventLedgerSpec(tables.EventLedger))
	if err != nil {
		return nil, err
	}
	rs.eventEvents = eventEvents
	rs.skippedLedgerRows += skipped

	// 主日总账按日期去重；活动总账键中带活动名（非周期性活动）
	rs.serviceDedup = ledger.NewDedupIndex(rs.serviceEvents, ledger.KeyByDate, false)
	rs.eventDedup = ledger.NewDedupIndex(rs.eventEvents, ledger.KeyByDate, true)

	return rs, nil
}

func (s *AttendanceService) loadLedger(ctx context.Context, spec source.Spec) ([]domain.AttendanceEvent, int, error) {
	events, skipped, err := source.LoadLedger(ctx, s.store, spec, s.logger)
	if err != nil {
		return nil, 0, fmt.Errorf("load ledger %s: %w", spec.Table, err)
	}
	if skipped > 0 {
		s.logger.Debug("Skipped malformed ledger rows",
			zap.String("table", spec.Table),
			zap.Int("skipped", skipped),
		)
	}
	return events, skipped, nil
}

// ResolveIdentity 解析姓名为稳定的人员身份
func (s *AttendanceService) ResolveIdentity(ctx context.Context, fullName string) (domain.PersonIdentity, error) {
	rs, err := s.buildRunState(ctx)
	if err != nil {
		return domain.PersonIdentity{}, err
	}
	return rs.resolver.Resolve(fullName)
}

// SubmitEvents 提交一批候选考勤事件
// 每行独立处理：无效行与重复行计入 skipped，绝不因单行失败中断批次；
// 返回计数而不是在部分失败时报错
func (s *AttendanceService) SubmitEvents(ctx context.Context, candidates []domain.AttendanceEvent) (domain.SubmitResult, error) {
	rs, err := s.buildRunState(ctx)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return s.submitWithState(ctx, rs, candidates)
}

// submitWithState 在既有运行状态上执行提交（同一运行内复用身份索引与去重索引）
func (s *AttendanceService) submitWithState(ctx context.Context, rs *runState, candidates []domain.AttendanceEvent) (domain.SubmitResult, error) {
	result := domain.SubmitResult{Total: len(candidates)}

	var serviceRows, eventRows []rowstore.Row
	for _, candidate := range candidates {
		ev := candidate

		if domain.NormalizeName(ev.FullName) == "" || ev.EventDate.IsZero() {
			result.Skipped++
			continue
		}

		if !identity.ValidNumericID(ev.PersonID) {
			person, err := rs.resolver.Resolve(ev.FullName)
			if err != nil {
				result.Skipped++
				continue
			}
			ev.PersonID = person.ID
		}
		if ev.Ledger == "" {
			ev.Ledger = domain.LedgerService
		}
		if ev.RecordedAt.IsZero() {
			ev.RecordedAt = time.Now()
		}
		if ev.EventID == "" && ev.Ledger == domain.LedgerEvent {
			ev.EventID = uuid.NewString()
		}

		dedup := rs.serviceDedup
		if ev.Ledger == domain.LedgerEvent {
			dedup = rs.eventDedup
		}
		if !dedup.ShouldInsert(ev) {
			result.Skipped++
			continue
		}
		dedup.Add(ev)

		row := s.eventToRow(ev)
		if ev.Ledger == domain.LedgerEvent {
			eventRows = append(eventRows, row)
		} else {
			serviceRows = append(serviceRows, row)
		}
		result.Inserted++
	}

	tables := s.config.Attendance.Tables
	if len(serviceRows) > 0 {
		if err := s.store.AppendRows(ctx, tables.ServiceLedger, serviceRows); err != nil {
			return result, fmt.Errorf("append to service ledger: %w", err)
		}
	}
	if len(eventRows) > 0 {
		if err := s.store.AppendRows(ctx, tables.EventLedger, eventRows); err != nil {
			return result, fmt.Errorf("append to event ledger: %w", err)
		}
	}

	s.logger.Info("Submitted attendance events",
		zap.Int("inserted", result.Inserted),
		zap.Int("skipped", result.Skipped),
		zap.Int("total", result.Total),
	)
	return result, nil
}

// eventToRow 事件写回总账行（列序与总账来源约定一致）
func (s *AttendanceService) eventToRow(ev domain.AttendanceEvent) rowstore.Row {
	return rowstore.Row{Cells: []string{
		fmt.Sprintf("%d", ev.PersonID),
		ev.FullName,
		ev.EventName,
		ev.EventID,
		ev.EventDate.Format("2006-01-02"),
		ev.Role,
		ev.RecordedAt.Format("2006-01-02 15:04:05"),
	}}
}

// SubmitWorksheet 将一张报名/签到工作表中勾选出席的行提交入账
// 缺失/无效行静默排除在提交计数之外，不中断整体提交
func (s *AttendanceService) SubmitWorksheet(ctx context.Context, worksheetTable, eventName string) (domain.SubmitResult, error) {
	rs, err := s.buildRunState(ctx)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	candidates, skipped, err := source.LoadWorksheetCandidates(
		ctx, s.store, source.WorksheetSpec(worksheetTable), eventName, s.logger)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	events := make([]domain.AttendanceEvent, 0, len(candidates))
	for _, c := range candidates {
		events = append(events, c.Event)
	}

	result, err := s.submitWithState(ctx, rs, events)
	result.Skipped += skipped
	result.Total += skipped
	return result, err
}

// BackfillIntakeIDs 为表单原始数据表中缺 id 的行解析并回填 person id
// 本服务即"异步补填 id"的那个流程；回填通过 UpdateCell 原地完成
func (s *AttendanceService) BackfillIntakeIDs(ctx context.Context) (int, error) {
	rs, err := s.buildRunState(ctx)
	if err != nil {
		return 0, err
	}

	spec := source.IntakeSpec(s.config.Attendance.Tables.FormIntake)
	rows, err := s.store.ReadRows(ctx, spec.Table)
	if err != nil {
		return 0, fmt.Errorf("read intake table: %w", err)
	}

	filled := 0
	for i := spec.FirstDataRow; i < len(rows); i++ {
		row := rows[i]
		if _, ok := identity.ExtractNumericID(row.Cell(spec.IDCol)); ok {
			continue
		}
		fullName := spec.FullName(row.Cell)
		person, err := rs.resolver.Resolve(fullName)
		if err != nil {
			continue
		}
		if err := s.store.UpdateCell(ctx, spec.Table, i, spec.IDCol, fmt.Sprintf("%d", person.ID)); err != nil {
			s.logger.Warn("Failed to backfill intake id",
				zap.Int("row", i),
				zap.Error(err),
			)
			continue
		}
		filled++
	}

	if filled > 0 {
		s.logger.Info("Backfilled intake person ids", zap.Int("filled", filled))
	}
	return filled, nil
}

// TransferFormIntake 将表单原始数据转入活动总账
// 对每行做有界轮询等待 id 出现；等不到的行跳过并计入 skipped，
// 带空 id 的行永远不会被插入总账
func (s *AttendanceService) TransferFormIntake(ctx context.Context) (domain.SubmitResult, error) {
	rs, err := s.buildRunState(ctx)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	spec := source.IntakeSpec(s.config.Attendance.Tables.FormIntake)
	candidates, skipped, err := source.LoadIntakeCandidates(ctx, s.store, spec, s.logger)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	waiter := ledger.NewIDWaiter(
		s.store,
		s.config.Attendance.Transfer.RetryCount,
		time.Duration(s.config.Attendance.Transfer.RetryDelayMS)*time.Millisecond,
		s.logger,
	)

	ready := make([]domain.AttendanceEvent, 0, len(candidates))
	for _, c := range candidates {
		ev := c.Event
		if !identity.ValidNumericID(ev.PersonID) {
			// 已入账的行轮询也等不到新 id，先用去重索引剪掉，避免白等
			if !rs.eventDedup.ShouldInsert(ev) {
				skipped++
				continue
			}
			id, err := waiter.WaitForPersonID(ctx, spec.Table, c.RowIdx, spec.IDCol)
			if err != nil {
				if ctx.Err() != nil {
					return domain.SubmitResult{}, err
				}
				skipped++
				continue
			}
			ev.PersonID = id
		}
		ready = append(ready, ev)
	}

	result, err := s.submitWithState(ctx, rs, ready)
	result.Skipped += skipped
	result.Total += skipped
	return result, err
}

// RecomputeAggregates 从总账全量重算每人聚合并刷新缓存
// 纯重算：不依赖任何先前聚合状态，重复运行结果一致
func (s *AttendanceService) RecomputeAggregates(ctx context.Context) ([]domain.AttendanceAggregate, error) {
	rs, err := s.buildRunState(ctx)
	if err != nil {
		return nil, err
	}

	aggregates := stats.Aggregate(rs.allEvents(), s.now(), s.thresholds())

	if s.cache != nil {
		if err := s.cache.UpdateAggregates(ctx, aggregates); err != nil {
			// 缓存失败不影响计算结果，下个周期重试
			s.logger.Warn("Failed to refresh aggregate cache", zap.Error(err))
		}
	}

	s.logger.Info("Recomputed attendance aggregates",
		zap.Int("persons", len(aggregates)),
		zap.Int("events", len(rs.serviceEvents)+len(rs.eventEvents)),
		zap.Int("skipped_rows", rs.skippedLedgerRows),
	)
	return aggregates, nil
}

// ComputeFlags 计算跟进与访客标记（每次全量重算并覆盖）
func (s *AttendanceService) ComputeFlags(ctx context.Context) (domain.FlagReport, error) {
	rs, err := s.buildRunState(ctx)
	if err != nil {
		return domain.FlagReport{}, err
	}

	events := rs.allEvents()
	aggregates := stats.Aggregate(events, s.now(), s.thresholds())
	return stats.ComputeFlags(events, aggregates, rs.directory, s.now(), s.thresholds()), nil
}

// SubmitSubmission 实现 intake.Submitter：把一条表单提交落入原始数据表
// id 列留空，由 BackfillIntakeIDs 异步补填，转入步骤再做有界等待
func (s *AttendanceService) SubmitSubmission(ctx context.Context, sub intake.Submission) error {
	submittedAt := sub.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}
	row := rowstore.Row{Cells: []string{
		submittedAt.Format("2006-01-02 15:04:05"),
		sub.FullName,
		sub.Email,
		"", // person id：异步回填
		sub.EventDate,
		sub.EventName,
	}}
	if err := s.store.AppendRows(ctx, s.config.Attendance.Tables.FormIntake, []rowstore.Row{row}); err != nil {
		return fmt.Errorf("append form submission: %w", err)
	}
	return nil
}

// loadIntakeKeys 原始数据表中已有提交的键集合
// 表单服务按时间窗拉取会反复返回同一批提交，落表前先对表内已有行去重
func (s *AttendanceService) loadIntakeKeys(ctx context.Context) (map[string]struct{}, error) {
	spec := source.IntakeSpec(s.config.Attendance.Tables.FormIntake)
	rows, err := s.store.ReadRows(ctx, spec.Table)
	if err != nil {
		return nil, fmt.Errorf("read intake table: %w", err)
	}

	keys := make(map[string]struct{}, len(rows))
	for i := spec.FirstDataRow; i < len(rows); i++ {
		row := rows[i]
		keys[intakeDedupKey(row.Cell(spec.NameCol), row.Cell(spec.DateCol), row.Cell(spec.EventNameCol))] = struct{}{}
	}
	return keys, nil
}

// intakeDedupKey 提交去重键：规范化姓名 + 活动日期 + 活动名
func intakeDedupKey(fullName, eventDate, eventName string) string {
	return domain.NormalizeName(fullName) + "|" +
		strings.TrimSpace(eventDate) + "|" +
		strings.ToLower(strings.TrimSpace(eventName))
}

// thresholds 配置阈值转为聚合参数
func (s *AttendanceService) thresholds() stats.Thresholds {
	th := s.config.Attendance.Thresholds
	return stats.Thresholds{
		CoreMin:              th.CoreMin,
		ActiveMin:            th.ActiveMin,
		TrailingWindowMonths: th.TrailingWindowMonths,
		ArchiveMonths:        th.ArchiveMonths,
		FollowUpDays:         th.FollowUpDays,
		VolunteerMarker:      th.VolunteerMarker,
	}
}
