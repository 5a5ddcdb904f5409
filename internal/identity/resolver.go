package identity

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pwava/databaseattendacetracker/internal/domain"
)

// Resolver 身份解析器：姓名 -> 稳定的 PersonIdentity
// 持有一次运行的 Index 与花名册快照；同一运行内对同一姓名的重复解析
// 必须返回同一个 id（确定且稳定），未知姓名铸造新 id 并记入索引
type Resolver struct {
	index     *Index
	directory map[string]domain.DirectoryEntry // 规范化姓名 -> 花名册条目
	logger    *zap.Logger
}

// NewResolver 创建身份解析器
func NewResolver(index *Index, directory []domain.DirectoryEntry, logger *zap.Logger) *Resolver {
	dirMap := make(map[string]domain.DirectoryEntry, len(directory))
	for _, entry := range directory {
		norm := domain.NormalizeName(entry.FullName)
		if norm == "" {
			continue
		}
		if _, exists := dirMap[norm]; !exists {
			dirMap[norm] = entry
		}
	}
	return &Resolver{
		index:     index,
		directory: dirMap,
		logger:    logger,
	}
}

// Resolve 解析姓名为 PersonIdentity
// 已知姓名返回既有 id；未知姓名铸造 maxUsedID+1 并记录
// 名/姓/邮箱优先取花名册数据，否则按空白拆分姓名降级
func (r *Resolver) Resolve(fullName string) (domain.PersonIdentity, error) {
	norm := domain.NormalizeName(fullName)
	if norm == "" {
		return domain.PersonIdentity{}, fmt.Errorf("resolve %q: %w", fullName, domain.ErrInvalidInput)
	}

	id, known := r.index.Lookup(norm)
	if !known {
		id = r.index.Mint(norm)
		r.logger.Info("Minted new person id",
			zap.Int("person_id", id),
			zap.String("full_name", fullName),
		)
	}

	identity := domain.PersonIdentity{
		ID:       id,
		FullName: fullName,
	}

	if entry, ok := r.directory[norm]; ok {
		identity.FirstName = entry.FirstName
		identity.LastName = entry.LastName
		identity.Email = entry.Email
		if entry.FullName != "" {
			identity.FullName = entry.FullName
		}
	}
	if identity.FirstName == "" && identity.LastName == "" {
		identity.FirstName, identity.LastName = domain.SplitName(identity.FullName)
	}

	return identity, nil
}
