package domain

import "errors"

// 错误分类：行级错误就地恢复（跳过+计数），配置错误直接上抛
var (
	// ErrInvalidInput 姓名或日期为空/无法解析，该行跳过，不中断批次
	ErrInvalidInput = errors.New("invalid input")

	// ErrSourceUnavailable 某个身份来源表无法读取，记录后继续其余来源
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrConfigurationMissing 缺少必需的花名册配置，对需要花名册的操作是致命错误
	ErrConfigurationMissing = errors.New("configuration missing")

	// ErrConsistencyTimeout 有界轮询耗尽仍未等到 person id，该行跳过
	ErrConsistencyTimeout = errors.New("consistency timeout")
)
