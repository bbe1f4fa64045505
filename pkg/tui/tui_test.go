package tui

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgdb "github.com/unowned-ai/resonance/pkg/db"
	"github.com/unowned-ai/resonance/pkg/memories"
)

var t0 = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func setupTestEngine(t *testing.T) *memories.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resonance.db")
	conn, err := pkgdb.OpenDBConnection(path, pkgdb.Options{Driver: pkgdb.DriverCGO, EnableWAL: true, SyncPragma: "NORMAL"})
	require.NoError(t, err)
	require.NoError(t, pkgdb.UpgradeDB(conn, path, pkgdb.TargetSchemaVersion, log.New(io.Discard)))
	t.Cleanup(func() { _ = conn.Close() })

	cfg := memories.DefaultEngineConfig()
	cfg.Now = func() time.Time { return t0.Add(24 * time.Hour) }
	return memories.NewEngine(conn, cfg)
}

func seed(t *testing.T, engine *memories.Engine, owner string, categories ...memories.Category) []memories.Record {
	t.Helper()
	out := make([]memories.Record, 0, len(categories))
	for i, c := range categories {
		rec, err := engine.Store.Put(context.Background(), memories.Record{
			OwnerID:    owner,
			Category:   c,
			CreatedAt:  t0.Add(time.Duration(i) * time.Hour),
			PayloadRef: "p",
			Tags:       []string{"walk"},
		})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

// drain runs cmd and feeds every resulting message back into the model.
func drain(t *testing.T, m model, cmd tea.Cmd) model {
	t.Helper()
	if cmd == nil {
		return m
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			m = drain(t, m, c)
		}
		return m
	}
	next, follow := m.Update(msg)
	return drain(t, next.(model), follow)
}

func press(t *testing.T, m model, key tea.KeyMsg) model {
	t.Helper()
	next, cmd := m.Update(key)
	return drain(t, next.(model), cmd)
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBrowsePages(t *testing.T) {
	engine := setupTestEngine(t)
	recs := seed(t, engine, "u1", memories.CategoryJoy, memories.CategoryCalm, memories.CategoryJoy, memories.CategoryCalm, memories.CategoryJoy)
	seed(t, engine, "u2", memories.CategoryJoy)

	m := initModel(engine, "/tmp/resonance.db", Options{Owner: "u1", PageSize: 2})
	m = drain(t, m, m.Init())

	require.Len(t, m.records, 2)
	assert.True(t, m.hasMore)
	assert.Equal(t, recs[4].RecordID, m.records[0].RecordID)
	require.NotNil(t, m.detail)
	assert.Equal(t, []memories.TagCount{{Tag: "walk", Count: 5}}, m.tags)

	m = press(t, m, runeKey("n"))
	assert.Len(t, m.cursors, 2)
	require.Len(t, m.records, 2)
	assert.Equal(t, recs[2].RecordID, m.records[0].RecordID)

	m = press(t, m, runeKey("n"))
	require.Len(t, m.records, 1)
	assert.False(t, m.hasMore)
	assert.Equal(t, recs[0].RecordID, m.records[0].RecordID)

	m = press(t, m, runeKey("n"))
	assert.Len(t, m.cursors, 3, "no page past the last")

	m = press(t, m, runeKey("p"))
	m = press(t, m, runeKey("p"))
	assert.Len(t, m.cursors, 1)
	assert.Equal(t, recs[4].RecordID, m.records[0].RecordID)
}

func TestCategoryFilter(t *testing.T) {
	engine := setupTestEngine(t)
	seed(t, engine, "u1", memories.CategoryCalm, memories.CategoryJoy, memories.CategoryCalm)

	m := initModel(engine, "db", Options{Owner: "u1"})
	m = drain(t, m, m.Init())
	require.Len(t, m.records, 3)

	// Categories[0] is joy, Categories[1] is calm.
	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, memories.CategoryJoy, m.category())
	require.Len(t, m.records, 1)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, memories.CategoryCalm, m.category())
	assert.Len(t, m.records, 2)
	for _, rec := range m.records {
		assert.Equal(t, memories.CategoryCalm, rec.Category)
	}

	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Empty(t, m.records)
	assert.Nil(t, m.detail)
}

func TestDeleteWithConfirm(t *testing.T) {
	engine := setupTestEngine(t)
	recs := seed(t, engine, "u1", memories.CategoryHope, memories.CategoryHope)

	m := initModel(engine, "db", Options{Owner: "u1"})
	m = drain(t, m, m.Init())

	m = press(t, m, runeKey("d"))
	assert.False(t, m.deleting, "delete needs the records column focused")

	m = press(t, m, tea.KeyMsg{Type: tea.KeyRight})
	assert.Equal(t, focusRecords, m.columnFocus)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, recs[0].RecordID, m.detail.RecordID)

	m = press(t, m, runeKey("d"))
	require.True(t, m.deleting)
	assert.Contains(t, m.View(), "Delete Record")

	// "No" is preselected.
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.deleting)
	assert.Len(t, m.records, 2)

	m = press(t, m, runeKey("d"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Len(t, m.records, 1)
	assert.Equal(t, recs[1].RecordID, m.records[0].RecordID)
	assert.Contains(t, m.status, recs[0].RecordID)

	_, err := engine.Store.Get(context.Background(), "u1", recs[0].RecordID)
	assert.ErrorIs(t, err, memories.ErrNotFound)
}

func TestRandomPick(t *testing.T) {
	engine := setupTestEngine(t)
	recs := seed(t, engine, "u1", memories.CategoryLove)

	m := initModel(engine, "db", Options{Owner: "u1"})
	m = drain(t, m, m.Init())
	m.detail = nil

	m = press(t, m, runeKey("r"))
	require.NotNil(t, m.detail)
	assert.Equal(t, recs[0].RecordID, m.detail.RecordID)
	assert.Equal(t, "random pick", m.status)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = press(t, m, runeKey("r"))
	require.Error(t, m.err)
	assert.ErrorIs(t, m.err, memories.ErrNoMatch)
	assert.Contains(t, m.View(), "No records to pick from.")
}

func TestOwnerPrompt(t *testing.T) {
	engine := setupTestEngine(t)
	seed(t, engine, "u9", memories.CategoryFear)

	m := initModel(engine, "db", Options{})
	require.True(t, m.editingOwner)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Error(t, m.err)
	assert.True(t, m.editingOwner)

	for _, r := range "u9" {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(model)
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.editingOwner)
	assert.Equal(t, "u9", m.owner)
	assert.Len(t, m.records, 1)
}

func TestViewRendersRecord(t *testing.T) {
	engine := setupTestEngine(t)
	seed(t, engine, "u1", memories.CategoryNostalgia)

	m := initModel(engine, "/data/resonance.db", Options{Owner: "u1"})
	m = drain(t, m, m.Init())
	next, _ := m.Update(tea.WindowSizeMsg{Width: 160, Height: 40})
	m = next.(model)

	view := m.View()
	assert.Contains(t, view, "Categories")
	assert.Contains(t, view, "resonance.db")
	assert.Contains(t, view, "nostalgia")
}
