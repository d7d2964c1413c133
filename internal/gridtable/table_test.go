package gridtable

import (
	"testing"

	"spread-grid-bot-go/internal/models"
	"spread-grid-bot-go/internal/persistence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAddRemoveGet(t *testing.T) {
	table := New(nil, zap.NewNop())
	long := models.NewGrid(NewGridID(), models.GridLong, 1, 5, 8)
	short := models.NewGrid(NewGridID(), models.GridShort, 1, 9, 6)
	table.Add(long)
	table.Add(short)

	assert.Len(t, table.Down, 1)
	assert.Len(t, table.Up, 1)
	assert.NotEqual(t, long.ID, short.ID)

	got, ok := table.Get(short.ID)
	require.True(t, ok)
	assert.Same(t, short, got)

	assert.True(t, table.Remove(long.ID))
	assert.False(t, table.Remove(long.ID))
	assert.Equal(t, 1, table.Len())
}

func TestOwnerOfAndActive(t *testing.T) {
	table := New(nil, zap.NewNop())
	g := models.NewGrid("g1", models.GridLong, 1, 5, 8)
	g.OrderStatus = true
	g.AddOrderID("o1")
	table.Add(g)
	table.Add(models.NewGrid("g2", models.GridLong, 1, 4, 8))

	owner, ok := table.OwnerOf("o1")
	require.True(t, ok)
	assert.Equal(t, "g1", owner.ID)
	_, ok = table.OwnerOf("o2")
	assert.False(t, ok)

	active := table.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "g1", active[0].ID)
}

func TestValidateDuplicateOrder(t *testing.T) {
	table := New(nil, zap.NewNop())
	a := models.NewGrid("a", models.GridLong, 1, 5, 8)
	b := models.NewGrid("b", models.GridShort, 1, 9, 6)
	a.AddOrderID("x")
	table.Add(a)
	table.Add(b)
	require.NoError(t, table.Validate())

	b.AddOrderID("x")
	assert.Error(t, table.Validate())
}

func TestSaveAndLoad(t *testing.T) {
	repo, err := persistence.NewInMemoryRepository("t")
	require.NoError(t, err)
	defer repo.Close()

	table := New(repo, zap.NewNop())
	table.Add(models.NewGrid("a", models.GridLong, 1, 5, 8))
	table.Add(models.NewGrid("b", models.GridShort, 2, 9, 6))
	require.NoError(t, table.Save())

	restored := New(repo, zap.NewNop())
	require.NoError(t, restored.Load())
	require.Len(t, restored.Down, 1)
	require.Len(t, restored.Up, 1)
	assert.Equal(t, 2.0, restored.Up[0].Volume)
}
