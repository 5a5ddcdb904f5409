package rowstore

import "context"

// Row 逻辑表中的一行：有序的字符串单元格
// 记录存储沿用表格（sheet）模型，列含义由 source 层的各来源适配器解释
type Row struct {
	Cells []string
}

// Cell 返回第 col 列的值，越界时返回空字符串
// 来源表列数参差不齐（历史表多有尾部空列被裁掉），越界按空单元格处理
func (r Row) Cell(col int) string {
	if col < 0 || col >= len(r.Cells) {
		return ""
	}
	return r.Cells[col]
}

// Store 记录存储契约：按命名逻辑表读写行
// 总账只追加；UpdateCell 仅用于异步补填（如表单行的 person id 回填）
type Store interface {
	// ReadRows 读取逻辑表的全部行（含表头/标签行，跳过规则由来源适配器决定）
	ReadRows(ctx context.Context, table string) ([]Row, error)
	// AppendRows 在逻辑表末尾追加行
	AppendRows(ctx context.Context, table string, rows []Row) error
	// UpdateCell 更新第 rowIdx 行第 col 列（均为 0 起始）
	UpdateCell(ctx context.Context, table string, rowIdx, col int, value string) error
}
