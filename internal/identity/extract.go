package identity

import "strings"

// ExtractNumericID 将原始标识值规范化为非负整数
// 仅接受去除首尾空白后纯数字的字符串（允许前导零，如 "045" -> 45）；
// 任何非数字字符都使整个值无效——历史的字母数字编码一律按缺失标识处理，
// 而不是试图解析，避免悄悄复用旧编码体系
func ExtractNumericID(raw string) (int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}

	id := 0
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return 0, false
		}
		id = id*10 + int(r-'0')
	}
	return id, true
}

// ValidNumericID 已是整数的标识直接校验：只有正整数算已分配的标识
// 0 表示尚未解析，负数是坏数据，两者都交给解析流程处理
func ValidNumericID(id int) bool {
	return id > 0
}
