package identity

import (
	"github.com/pwava/databaseattendacetracker/internal/domain"
)

// Entry 身份来源表中的一行：原始 id 单元格 + 姓名
type Entry struct {
	RawID    string
	FullName string
}

// SourceEntries 一个身份来源的全部行，Name 仅用于日志
type SourceEntries struct {
	Name    string
	Entries []Entry
}

// Index 一次运行内的身份索引（运行作用域状态，显式传递，不做包级全局）
// nameToID: 每个规范化姓名取"最高优先级且 id 有效"来源给出的 id
// maxUsedID: 所有来源中观察到的最大有效数字 id，新 id 从它之上铸造
type Index struct {
	nameToID  map[string]int
	maxUsedID int
}

// BuildIndex 按优先级从高到低扫描身份来源，构建索引
// 同名首写胜出（即高优先级来源胜出）；规范化后为空的姓名忽略；
// id 单元格无效的行不参与 nameToID，但其有效数字 id 仍计入 maxUsedID 扫描
func BuildIndex(sources []SourceEntries) *Index {
	idx := &Index{
		nameToID: make(map[string]int),
	}

	for _, src := range sources {
		for _, entry := range src.Entries {
			id, ok := ExtractNumericID(entry.RawID)
			if !ok {
				continue
			}
			if id > idx.maxUsedID {
				idx.maxUsedID = id
			}

			norm := domain.NormalizeName(entry.FullName)
			if norm == "" {
				continue
			}
			if _, exists := idx.nameToID[norm]; !exists {
				idx.nameToID[norm] = id
			}
		}
	}

	return idx
}

// Lookup 查询规范化姓名对应的 id
func (x *Index) Lookup(normName string) (int, bool) {
	id, ok := x.nameToID[normName]
	return id, ok
}

// MaxUsedID 当前观察到/已铸造的最大 id
func (x *Index) MaxUsedID() int {
	return x.maxUsedID
}

// Mint 为尚无 id 的规范化姓名铸造新 id：maxUsedID+1
// 同一次运行内对同一新姓名幂等（第二次调用返回第一次铸造的 id）
// id 只增不减、永不复用
func (x *Index) Mint(normName string) int {
	if id, ok := x.nameToID[normName]; ok {
		return id
	}
	x.maxUsedID++
	x.nameToID[normName] = x.maxUsedID
	return x.maxUsedID
}

// Size 已索引的姓名数
func (x *Index) Size() int {
	return len(x.nameToID)
}
