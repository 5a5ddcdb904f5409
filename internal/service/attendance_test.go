package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pwava/databaseattendacetracker/internal/config"
	"github.com/pwava/databaseattendacetracker/internal/domain"
	"github.com/pwava/databaseattendacetracker/internal/intake"
	"github.com/pwava/databaseattendacetracker/internal/rowstore"
	"github.com/pwava/databaseattendacetracker/internal/store"
)

// memKV 内存 KV（测试用，实现 store.KV）
type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string)}
}

func (m *memKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (m *memKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Attendance.Tables = config.TablesConfig{
		Directory:     "directory",
		ServiceLedger: "service_ledger",
		EventLedger:   "event_ledger",
		Worksheets:    []string{"registration"},
		FormIntake:    "form_intake",
	}
	cfg.Attendance.Thresholds = config.ThresholdsConfig{
		CoreMin:              12,
		ActiveMin:            3,
		TrailingWindowMonths: 3,
		ArchiveMonths:        12,
		FollowUpDays:         30,
		VolunteerMarker:      "volunteer",
	}
	// 测试里把轮询间隔压到最短，等不到 id 的行尽快放弃
	cfg.Attendance.Transfer = config.TransferConfig{RetryCount: 2, RetryDelayMS: 1}
	cfg.Attendance.CacheKeyPrefix = "attendance:person:"
	cfg.Attendance.CacheTTL = 600
	return cfg
}

// newTestService 搭一套种好基础数据的服务：花名册 2 人，总账各 1 行表头
func newTestService(t *testing.T) (*AttendanceService, *rowstore.MemoryStore, *memKV) {
	t.Helper()

	ms := rowstore.NewMemoryStore()
	ms.Seed("directory", [][]string{
		{"id", "full_name", "first_name", "last_name", "email"},
		{"1", "Jane Doe", "Jane", "Doe", "jane@example.com"},
		{"2", "John Smith", "John", "Smith", ""},
	})
	ms.Seed("service_ledger", [][]string{
		{"id", "full_name", "event_name", "event_id", "date", "role", "recorded_at"},
	})
	ms.Seed("event_ledger", [][]string{
		{"id", "full_name", "event_name", "event_id", "date", "role", "recorded_at"},
	})
	ms.Seed("registration", [][]string{
		{"Spring Retreat Signup", "", "", "", ""},
		{"id", "first_name", "last_name", "present", "date"},
	})
	ms.Seed("form_intake", [][]string{
		{"timestamp", "full_name", "email", "person_id", "event_date", "event_name"},
	})

	kv := newMemKV()
	svc := NewWithStore(testConfig(), zap.NewNop(), ms, kv)
	svc.nowFn = func() time.Time {
		return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	}
	return svc, ms, kv
}

// fakeForms 固定返回同一批提交的表单拉取方
type fakeForms struct {
	submissions []intake.Submission
	calls       int
}

func (f *fakeForms) FetchSubmissions(formID string, since time.Time) ([]intake.Submission, error) {
	f.calls++
	return f.submissions, nil
}

func TestResolveIdentity_ConfiguredPriorityWins(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	// John Smith 在工作表里带着另一个 id
	ms.Seed("registration", [][]string{
		{"Signup", "", "", "", ""},
		{"id", "first_name", "last_name", "present", "date"},
		{"77", "John", "Smith", "", "2024-06-08"},
	})

	// 默认顺序：花名册优先
	person, err := svc.ResolveIdentity(ctx, "John Smith")
	require.NoError(t, err)
	assert.Equal(t, 2, person.ID)

	// 工作表排到花名册前面：工作表的绑定生效
	svc.config.Attendance.Priority = []string{
		"registration", "directory", "service_ledger", "event_ledger", "form_intake",
	}
	person, err = svc.ResolveIdentity(ctx, "John Smith")
	require.NoError(t, err)
	assert.Equal(t, 77, person.ID)
}

func TestSyncFormSubmissions_RepeatedFetchAppendsOnce(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	forms := &fakeForms{submissions: []intake.Submission{
		{
			SubmittedAt: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
			FullName:    "Jane Doe",
			Email:       "jane@example.com",
			EventName:   "Picnic",
			EventDate:   "2024-06-09",
		},
		{
			SubmittedAt: time.Date(2024, 6, 10, 9, 5, 0, 0, time.UTC),
			FullName:    "Maria Santos",
			EventName:   "Picnic",
			EventDate:   "2024-06-09",
		},
	}}
	svc.formsClient = forms

	first, err := svc.SyncFormSubmissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first)

	// 时间窗内的下一轮返回同一批提交：不再落表
	second, err := svc.SyncFormSubmissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second)
	assert.Equal(t, 2, forms.calls)

	rows, err := ms.ReadRows(ctx, "form_intake")
	require.NoError(t, err)
	assert.Len(t, rows, 3) // 表头 + 2 条提交
}

func TestPublishSubmission_PollingModeWritesIntakeRow(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	err := svc.PublishSubmission(ctx, intake.Submission{
		SubmittedAt: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
		FullName:    "Jane Doe",
		EventName:   "Picnic",
		EventDate:   "2024-06-09",
	})
	require.NoError(t, err)

	rows, err := ms.ReadRows(ctx, "form_intake")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Jane Doe", rows[1].Cell(1))
	assert.Equal(t, "", rows[1].Cell(3))
}

func TestSubmitEvents_SecondSubmissionIsSkipped(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	candidate := domain.AttendanceEvent{
		FullName:  "Jane Doe",
		EventName: "Sunday Service",
		EventDate: time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC),
	}

	first, err := svc.SubmitEvents(ctx, []domain.AttendanceEvent{candidate})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	assert.Equal(t, 0, first.Skipped)

	// 同一天同一人再提交一次：不新增行
	second, err := svc.SubmitEvents(ctx, []domain.AttendanceEvent{candidate})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.Skipped)

	rows, err := ms.ReadRows(ctx, "service_ledger")
	require.NoError(t, err)
	require.Len(t, rows, 2) // 表头 + 1 行
	assert.Equal(t, "1", rows[1].Cell(0))
	assert.Equal(t, "2024-06-09", rows[1].Cell(4))
}

func TestSubmitEvents_MintsIDForUnknownName(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.SubmitEvents(ctx, []domain.AttendanceEvent{{
		FullName:  "Maria Santos",
		EventDate: time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)

	rows, err := ms.ReadRows(ctx, "service_ledger")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// 花名册最大 id 是 2，新名字铸发 3
	assert.Equal(t, "3", rows[1].Cell(0))
	assert.Equal(t, "Maria Santos", rows[1].Cell(1))
}

func TestSubmitEvents_BatchCountsInvalidRows(t *testing.T) {
	svc, _, _ := newTestService(t)

	result, err := svc.SubmitEvents(context.Background(), []domain.AttendanceEvent{
		{FullName: "Jane Doe", EventDate: time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)},
		{FullName: "   ", EventDate: time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)},
		{FullName: "John Smith"}, // 无日期
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 2, result.Skipped)
}

func TestSubmitEvents_MissingDirectoryConfig(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.config.Attendance.Tables.Directory = ""

	_, err := svc.SubmitEvents(context.Background(), nil)
	assert.True(t, errors.Is(err, domain.ErrConfigurationMissing))
}

func TestSubmitWorksheet_OnlyCheckedRows(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	ms.Seed("registration", [][]string{
		{"Spring Retreat Signup", "", "", "", ""},
		{"id", "first_name", "last_name", "present", "date"},
		{"1", "Jane", "Doe", "yes", "2024-06-08"},
		{"", "Maria", "Santos", "x", "2024-06-08"},
		{"2", "John", "Smith", "", "2024-06-08"}, // 未勾选
	})

	result, err := svc.SubmitWorksheet(ctx, "registration", "Spring Retreat")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)

	rows, err := ms.ReadRows(ctx, "service_ledger")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Jane Doe", rows[1].Cell(1))
	assert.Equal(t, "Spring Retreat", rows[1].Cell(2))
	assert.Equal(t, "Maria Santos", rows[2].Cell(1))
	assert.Equal(t, "3", rows[2].Cell(0)) // 新名字铸发
}

func TestBackfillIntakeIDs(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	ms.Seed("form_intake", [][]string{
		{"timestamp", "full_name", "email", "person_id", "event_date", "event_name"},
		{"2024-06-10 09:00:00", "Jane Doe", "jane@example.com", "", "2024-06-09", "Picnic"},
		{"2024-06-10 09:05:00", "Maria Santos", "", "", "2024-06-09", "Picnic"},
		{"2024-06-10 09:10:00", "John Smith", "", "2", "2024-06-09", "Picnic"}, // 已有 id
	})

	filled, err := svc.BackfillIntakeIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, filled)

	rows, err := ms.ReadRows(ctx, "form_intake")
	require.NoError(t, err)
	assert.Equal(t, "1", rows[1].Cell(3)) // 花名册已有
	assert.Equal(t, "3", rows[2].Cell(3)) // 新名字铸发
	assert.Equal(t, "2", rows[3].Cell(3)) // 原样保留
}

func TestTransferFormIntake_WaitsForIDAndSkipsUnfilled(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	ms.Seed("form_intake", [][]string{
		{"timestamp", "full_name", "email", "person_id", "event_date", "event_name"},
		{"2024-06-10 09:00:00", "Jane Doe", "jane@example.com", "1", "2024-06-09", "Picnic"},
		{"2024-06-10 09:05:00", "Ghost Entry", "", "", "2024-06-09", "Picnic"}, // id 永远不出现
	})

	result, err := svc.TransferFormIntake(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Skipped)

	rows, err := ms.ReadRows(ctx, "event_ledger")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Jane Doe", rows[1].Cell(1))
	assert.Equal(t, "Picnic", rows[1].Cell(2))

	// 再跑一遍：已入账的行被去重，不再插入
	again, err := svc.TransferFormIntake(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)

	rows, err = ms.ReadRows(ctx, "event_ledger")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRecomputeAggregates_RefreshesCacheSnapshot(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	ms.Seed("service_ledger", [][]string{
		{"id", "full_name", "event_name", "event_id", "date", "role", "recorded_at"},
		{"1", "Jane Doe", "Sunday Service", "", "2024-06-02", "", "2024-06-02 11:00:00"},
		{"1", "Jane Doe", "Sunday Service", "", "2024-06-09", "volunteer greeter", "2024-06-09 11:00:00"},
	})

	aggregates, err := svc.RecomputeAggregates(ctx)
	require.NoError(t, err)
	require.Len(t, aggregates, 1)
	assert.Equal(t, 1, aggregates[0].PersonID)
	assert.Equal(t, 2, aggregates[0].TotalEventsAttended)
	assert.Equal(t, 1, aggregates[0].VolunteerCount)

	cached, err := svc.Cache().GetAggregates(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, aggregates[0].PersonID, cached[0].PersonID)
	assert.Equal(t, aggregates[0].TotalEventsAttended, cached[0].TotalEventsAttended)
	assert.Equal(t, aggregates[0].ActivityLevel, cached[0].ActivityLevel)
	assert.True(t, aggregates[0].LastAttendedDate.Equal(cached[0].LastAttendedDate))
}

func TestRecomputeAggregates_IsIdempotent(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	ms.Seed("service_ledger", [][]string{
		{"id", "full_name", "event_name", "event_id", "date", "role", "recorded_at"},
		{"1", "Jane Doe", "Sunday Service", "", "2024-06-02", "", ""},
	})

	first, err := svc.RecomputeAggregates(ctx)
	require.NoError(t, err)
	second, err := svc.RecomputeAggregates(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSubmitSubmission_AppendsIntakeRowWithoutID(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	err := svc.SubmitSubmission(ctx, intake.Submission{
		SubmittedAt: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
		FullName:    "Maria Santos",
		Email:       "maria@example.com",
		EventName:   "Picnic",
		EventDate:   "2024-06-09",
	})
	require.NoError(t, err)

	rows, err := ms.ReadRows(ctx, "form_intake")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Maria Santos", rows[1].Cell(1))
	assert.Equal(t, "", rows[1].Cell(3)) // id 留空，等待异步回填
	assert.Equal(t, "2024-06-09", rows[1].Cell(4))
}

func TestComputeFlags_EndToEnd(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	ms.Seed("service_ledger", [][]string{
		{"id", "full_name", "event_name", "event_id", "date", "role", "recorded_at"},
		{"1", "Jane Doe", "Sunday Service", "", "2024-06-09", "", ""},
		{"3", "Walk In", "Sunday Service", "", "2024-04-07", "", ""},
	})

	report, err := svc.ComputeFlags(ctx)
	require.NoError(t, err)
	require.Len(t, report.Events, 2)
	assert.True(t, report.Events[0].FirstTime)
	assert.False(t, report.Events[0].NeedsFollowUp)
	assert.True(t, report.Events[1].NeedsFollowUp)

	guests := make(map[int]bool)
	for _, g := range report.Guests {
		guests[g.PersonID] = g.Guest
	}
	assert.False(t, guests[1])
	assert.True(t, guests[3])
}
