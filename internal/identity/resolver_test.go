package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pwava/databaseattendacetracker/internal/domain"
)

func newTestResolver(t *testing.T, sources []SourceEntries, directory []domain.DirectoryEntry) *Resolver {
	t.Helper()
	return NewResolver(BuildIndex(sources), directory, zap.NewNop())
}

func TestResolver_KnownNameUsesDirectoryData(t *testing.T) {
	r := newTestResolver(t,
		[]SourceEntries{{Name: "directory", Entries: []Entry{{RawID: "10", FullName: "John Smith"}}}},
		[]domain.DirectoryEntry{{
			ID: 10, FullName: "John Smith", FirstName: "John", LastName: "Smith", Email: "john@example.org",
		}},
	)

	person, err := r.Resolve("  john   smith ")
	require.NoError(t, err)
	assert.Equal(t, 10, person.ID)
	assert.Equal(t, "John", person.FirstName)
	assert.Equal(t, "Smith", person.LastName)
	assert.Equal(t, "john@example.org", person.Email)
}

func TestResolver_UnknownNameSplitsForNames(t *testing.T) {
	r := newTestResolver(t,
		[]SourceEntries{{Name: "directory", Entries: []Entry{{RawID: "10", FullName: "John Smith"}}}},
		nil,
	)

	person, err := r.Resolve("Ana Maria Santos")
	require.NoError(t, err)
	assert.Equal(t, 11, person.ID)
	assert.Equal(t, "Ana", person.FirstName)
	assert.Equal(t, "Maria Santos", person.LastName)
}

func TestResolver_IDsAreMonotonicAndStableWithinRun(t *testing.T) {
	r := newTestResolver(t,
		[]SourceEntries{{Name: "directory", Entries: []Entry{{RawID: "100", FullName: "Known Person"}}}},
		nil,
	)

	seen := make(map[int]string)

	first, err := r.Resolve("Newcomer One")
	require.NoError(t, err)
	seen[first.ID] = first.FullName

	second, err := r.Resolve("Newcomer Two")
	require.NoError(t, err)
	// 不复用、不回退
	_, dup := seen[second.ID]
	require.False(t, dup)
	assert.Greater(t, second.ID, first.ID)

	// 同一运行内重复解析同一个新名字得到同一 id
	again, err := r.Resolve("newcomer one")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestResolver_EmptyNameIsInvalidInput(t *testing.T) {
	r := newTestResolver(t, nil, nil)

	_, err := r.Resolve("   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
