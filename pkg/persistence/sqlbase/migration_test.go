package sqlbase

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func versions(migrations []Migration) []int {
	out := make([]int, 0, len(migrations))
	for _, m := range migrations {
		out = append(out, m.Version)
	}

	return out
}

func TestNewMigrator_SortsAndPending(t *testing.T) {
	m, err := NewMigrator(slog.Default(), nil, []Migration{
		{Version: 3, Name: "c"},
		{Version: 1, Name: "a"},
		{Version: 2, Name: "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, m.LatestVersion())
	assert.Equal(t, []int{1, 2, 3}, versions(m.Pending(0)))
	assert.Equal(t, []int{3}, versions(m.Pending(2)))
	assert.Empty(t, m.Pending(3))
	assert.Empty(t, m.Pending(10))
}

func TestNewMigrator_Invalid(t *testing.T) {
	_, err := NewMigrator(slog.Default(), nil, []Migration{{Version: 1}, {Version: 1}})
	assert.ErrorContains(t, err, "duplicate migration version 1")

	_, err = NewMigrator(slog.Default(), nil, []Migration{{Version: 0, Name: "zero"}})
	assert.ErrorContains(t, err, "invalid version")

	empty, err := NewMigrator(slog.Default(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.LatestVersion())
}
