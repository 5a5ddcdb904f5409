package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pwava/databaseattendacetracker/internal/domain"
	"github.com/pwava/databaseattendacetracker/internal/identity"
	"github.com/pwava/databaseattendacetracker/internal/rowstore"
)

// IDWaiter 表单转入总账前的有界等待
// 外部表单先写入一行，异步流程随后补填 person id；这里做固定延迟、固定次数的
// 轮询等待，耗尽即放弃该行（ErrConsistencyTimeout），绝不无界阻塞、绝不插入空 id
type IDWaiter struct {
	store      rowstore.Store
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewIDWaiter 创建等待器
func NewIDWaiter(store rowstore.Store, retryCount int, retryDelay time.Duration, logger *zap.Logger) *IDWaiter {
	if retryCount < 1 {
		retryCount = 1
	}
	return &IDWaiter{
		store:      store,
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// WaitForPersonID 轮询表单表第 rowIdx 行的 id 单元格，直到出现有效数字 id
// 返回 ErrConsistencyTimeout 表示轮询耗尽，调用方跳过该行并计数
func (w *IDWaiter) WaitForPersonID(ctx context.Context, table string, rowIdx, idCol int) (int, error) {
	for attempt := 0; attempt < w.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(w.retryDelay):
			}
		}

		rows, err := w.store.ReadRows(ctx, table)
		if err != nil {
			return 0, fmt.Errorf("read %s while waiting for id: %w", table, err)
		}
		if rowIdx < 0 || rowIdx >= len(rows) {
			return 0, fmt.Errorf("row %d vanished from %s: %w", rowIdx, table, domain.ErrInvalidInput)
		}

		if id, ok := identity.ExtractNumericID(rows[rowIdx].Cell(idCol)); ok && identity.ValidNumericID(id) {
			return id, nil
		}
	}

	w.logger.Warn("Person id never appeared, skipping row",
		zap.String("table", table),
		zap.Int("row", rowIdx),
		zap.Int("attempts", w.retryCount),
	)
	return 0, fmt.Errorf("row %d in %s: %w", rowIdx, table, domain.ErrConsistencyTimeout)
}
