package domain

import "strings"

// PersonIdentity 人员身份（对应 directory 表）
// ID 是唯一持久键；姓名/邮箱是可变的展示数据
// 全系统不变式：同一规范化姓名至多对应一个 ID，ID 单调分配、永不复用
type PersonIdentity struct {
	ID        int    `db:"person_id"`  // 正整数，唯一
	FullName  string `db:"full_name"`  // 展示姓名
	FirstName string `db:"first_name"` // 名
	LastName  string `db:"last_name"`  // 姓
	Email     string `db:"email"`
}

// DirectoryEntry 花名册条目（权威身份来源，核心只读）
type DirectoryEntry struct {
	ID        int    `db:"person_id"`
	FullName  string `db:"full_name"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Email     string `db:"email"`
}

// NormalizeName 姓名规范化：去首尾空白、折叠内部空白、统一小写
// 作为身份索引和去重的比较键；规范化后为空的姓名视为无效
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// SplitName 按空白拆分姓名：首个词为名，其余为姓
// 花名册没有对应条目时的降级方案
func SplitName(fullName string) (first, last string) {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return "", ""
	}
	first = fields[0]
	if len(fields) > 1 {
		last = strings.Join(fields[1:], " ")
	}
	return first, last
}
