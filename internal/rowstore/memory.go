package rowstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore 内存记录存储（单元测试与本地演示用）
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

// NewMemoryStore 创建内存记录存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]Row)}
}

var _ Store = (*MemoryStore)(nil)

// Seed 直接写入整张逻辑表（测试前置数据）
func (s *MemoryStore) Seed(table string, rows [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, 0, len(rows))
	for _, cells := range rows {
		c := make([]string, len(cells))
		copy(c, cells)
		out = append(out, Row{Cells: c})
	}
	s.tables[table] = out
}

func (s *MemoryStore) ReadRows(ctx context.Context, table string) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s not found", table)
	}
	out := make([]Row, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row.Cells))
		copy(cells, row.Cells)
		out[i] = Row{Cells: cells}
	}
	return out, nil
}

func (s *MemoryStore) AppendRows(ctx context.Context, table string, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		cells := make([]string, len(row.Cells))
		copy(cells, row.Cells)
		s.tables[table] = append(s.tables[table], Row{Cells: cells})
	}
	return nil
}

func (s *MemoryStore) UpdateCell(ctx context.Context, table string, rowIdx, col int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok || rowIdx < 0 || rowIdx >= len(rows) {
		return fmt.Errorf("row %d not found in %s", rowIdx, table)
	}
	for len(rows[rowIdx].Cells) <= col {
		rows[rowIdx].Cells = append(rows[rowIdx].Cells, "")
	}
	rows[rowIdx].Cells[col] = value
	s.tables[table] = rows
	return nil
}
