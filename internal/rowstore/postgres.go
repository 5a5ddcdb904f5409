package rowstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// PostgresStore 基于 PostgreSQL 的记录存储实现
// 所有逻辑表共用一张 sheet_rows 表：(table_name, row_idx, cells jsonb)
// 保留表格的行序模型，便于与历史工作表的行号约定保持一致
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore 创建记录存储
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// 确保实现了接口
var _ Store = (*PostgresStore)(nil)

// ReadRows 按行序读取逻辑表的全部行
func (s *PostgresStore) ReadRows(ctx context.Context, table string) ([]Row, error) {
	if table == "" {
		return nil, fmt.Errorf("table name is required")
	}

	query := `
		SELECT cells
		FROM sheet_rows
		WHERE table_name = $1
		ORDER BY row_idx
	`

	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from %s: %w", table, err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", table, err)
		}
		var cells []string
		if err := json.Unmarshal(raw, &cells); err != nil {
			return nil, fmt.Errorf("failed to decode cells from %s: %w", table, err)
		}
		result = append(result, Row{Cells: cells})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows from %s: %w", table, err)
	}

	return result, nil
}

// AppendRows 在逻辑表末尾追加行（事务内分配连续行号）
func (s *PostgresStore) AppendRows(ctx context.Context, table string, newRows []Row) error {
	if table == "" {
		return fmt.Errorf("table name is required")
	}
	if len(newRows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var nextIdx int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(row_idx), -1) + 1 FROM sheet_rows WHERE table_name = $1`,
		table,
	).Scan(&nextIdx)
	if err != nil {
		return fmt.Errorf("failed to determine next row index for %s: %w", table, err)
	}

	for i, row := range newRows {
		cellsJSON, err := json.Marshal(row.Cells)
		if err != nil {
			return fmt.Errorf("failed to encode cells: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sheet_rows (table_name, row_idx, cells) VALUES ($1, $2, $3)`,
			table, nextIdx+i, cellsJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to append row to %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append to %s: %w", table, err)
	}

	s.logger.Debug("Appended rows",
		zap.String("table", table),
		zap.Int("count", len(newRows)),
	)
	return nil
}

// UpdateCell 更新指定行列的单元格值
// 行不存在时报错；列超出现有长度时向右补空单元格
func (s *PostgresStore) UpdateCell(ctx context.Context, table string, rowIdx, col int, value string) error {
	if table == "" {
		return fmt.Errorf("table name is required")
	}
	if rowIdx < 0 || col < 0 {
		return fmt.Errorf("row and column must be non-negative")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT cells FROM sheet_rows WHERE table_name = $1 AND row_idx = $2 FOR UPDATE`,
		table, rowIdx,
	).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("row %d not found in %s: %w", rowIdx, table, err)
		}
		return fmt.Errorf("failed to load row %d from %s: %w", rowIdx, table, err)
	}

	var cells []string
	if err := json.Unmarshal(raw, &cells); err != nil {
		return fmt.Errorf("failed to decode cells from %s: %w", table, err)
	}

	for len(cells) <= col {
		cells = append(cells, "")
	}
	cells[col] = value

	cellsJSON, err := json.Marshal(cells)
	if err != nil {
		return fmt.Errorf("failed to encode cells: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sheet_rows SET cells = $3 WHERE table_name = $1 AND row_idx = $2`,
		table, rowIdx, cellsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update cell in %s: %w", table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update to %s: %w", table, err)
	}

	return nil
}
