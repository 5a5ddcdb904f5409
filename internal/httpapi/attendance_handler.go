package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pwava/databaseattendacetracker/internal/domain"
	"github.com/pwava/databaseattendacetracker/internal/intake"
	"github.com/pwava/databaseattendacetracker/internal/rowstore"
	"github.com/pwava/databaseattendacetracker/internal/service"
	"github.com/pwava/databaseattendacetracker/internal/source"
	"github.com/pwava/databaseattendacetracker/internal/store"
)

// AttendanceHandler 考勤核心的 HTTP 入口
type AttendanceHandler struct {
	svc    *service.AttendanceService
	logger *zap.Logger
}

// NewAttendanceHandler 创建考勤处理器
func NewAttendanceHandler(svc *service.AttendanceService, logger *zap.Logger) *AttendanceHandler {
	return &AttendanceHandler{svc: svc, logger: logger}
}

// GetAggregates 返回每人聚合统计（优先缓存快照，未命中则现场重算）
func (h *AttendanceHandler) GetAggregates(w http.ResponseWriter, r *http.Request) {
	if cache := h.svc.Cache(); cache != nil {
		if aggregates, err := cache.GetAggregates(r.Context()); err == nil {
			writeJSON(w, http.StatusOK, Ok(aggregates))
			return
		} else if !errors.Is(err, store.ErrMiss) {
			h.logger.Warn("Aggregate cache read failed", zap.Error(err))
		}
	}

	aggregates, err := h.svc.RecomputeAggregates(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(aggregates))
}

// ResolveIdentity 姓名解析：GET /attendance/api/v1/identity?name=...
func (h *AttendanceHandler) ResolveIdentity(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	person, err := h.svc.ResolveIdentity(r.Context(), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(person))
}

// submitEventRequest 提交事件请求体中的一行
type submitEventRequest struct {
	FullName  string `json:"full_name"`
	EventName string `json:"event_name"`
	EventDate string `json:"event_date"` // "2006-01-02"
	Role      string `json:"role"`
	Ledger    string `json:"ledger"` // "service"（默认）或 "event"
}

// SubmitEvents 提交一批候选考勤事件
// 坏行不导致 4xx：返回 inserted/skipped 计数
func (h *AttendanceHandler) SubmitEvents(w http.ResponseWriter, r *http.Request) {
	var reqs []submitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	candidates := make([]domain.AttendanceEvent, 0, len(reqs))
	for _, req := range reqs {
		ev := domain.AttendanceEvent{
			FullName:  req.FullName,
			EventName: req.EventName,
			Role:      req.Role,
			Ledger:    req.Ledger,
		}
		if date, err := source.ParseDate(req.EventDate); err == nil {
			ev.EventDate = date
		}
		candidates = append(candidates, ev)
	}

	result, err := h.svc.SubmitEvents(r.Context(), candidates)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

// Recompute 触发全量重算
func (h *AttendanceHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	aggregates, err := h.svc.RecomputeAggregates(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(aggregates))
}

// GetFlags 返回跟进与访客标记
func (h *AttendanceHandler) GetFlags(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.ComputeFlags(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(report))
}

// ImportWorksheets 上传 .xlsx 工作簿，将每个 sheet 追加到同名逻辑表
func (h *AttendanceHandler) ImportWorksheets(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil || len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, Fail("empty upload"))
		return
	}

	tables, err := rowstore.ImportWorkbook(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(fmt.Sprintf("unreadable workbook: %v", err)))
		return
	}

	imported := make(map[string]int, len(tables))
	for table, rows := range tables {
		if err := h.svc.Store().AppendRows(r.Context(), table, rows); err != nil {
			h.writeError(w, err)
			return
		}
		imported[table] = len(rows)
	}

	writeJSON(w, http.StatusOK, Ok(imported))
}

// submitWorksheetRequest 工作表提交请求
type submitWorksheetRequest struct {
	Worksheet string `json:"worksheet"`
	EventName string `json:"event_name"`
}

// SubmitWorksheet 把工作表中勾选出席的行提交入账
func (h *AttendanceHandler) SubmitWorksheet(w http.ResponseWriter, r *http.Request) {
	var req submitWorksheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Worksheet) == "" {
		writeJSON(w, http.StatusBadRequest, Fail("worksheet is required"))
		return
	}

	result, err := h.svc.SubmitWorksheet(r.Context(), req.Worksheet, req.EventName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

// ExportStats 导出聚合统计 .xlsx
func (h *AttendanceHandler) ExportStats(w http.ResponseWriter, r *http.Request) {
	aggregates, err := h.svc.RecomputeAggregates(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := rowstore.ExportStats(aggregates)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s", rowstore.ExportFileName(time.Now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// submitSubmissionRequest webhook 表单提交请求体
type submitSubmissionRequest struct {
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	EventName string `json:"event_name"`
	EventDate string `json:"event_date"`
}

// SubmitSubmission 接收外部表单 webhook 的一条提交
func (h *AttendanceHandler) SubmitSubmission(w http.ResponseWriter, r *http.Request) {
	var req submitSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.FullName) == "" {
		writeJSON(w, http.StatusBadRequest, Fail("full_name is required"))
		return
	}

	err := h.svc.PublishSubmission(r.Context(), intake.Submission{
		SubmittedAt: time.Now(),
		FullName:    req.FullName,
		Email:       req.Email,
		EventName:   req.EventName,
		EventDate:   req.EventDate,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok("accepted"))
}

// writeError 错误分类映射到 HTTP 状态
// 配置错误 500（必须立刻显眼地失败），输入错误 400，其余 500
func (h *AttendanceHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
	case errors.Is(err, domain.ErrConfigurationMissing):
		h.logger.Error("Configuration missing", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
	default:
		h.logger.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
	}
}
