package tui

import (
	"context"
	"database/sql"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unowned-ai/resonance/pkg/memories"
)

// recordsPageMsg carries one page of the owner's records.
type recordsPageMsg struct {
	page   memories.Page
	cursor string // cursor the page was read with
}

type randomRecordMsg struct {
	record memories.Record
}

type recordDeletedMsg struct {
	recordID string
}

type tagsMsg []memories.TagCount

// listRecords reads one page of the owner's records, optionally filtered by category.
func listRecords(engine *memories.Engine, owner string, category memories.Category, cursor string, pageSize int) tea.Cmd {
	return func() tea.Msg {
		q := memories.OwnerQuery{OwnerID: owner, Cursor: cursor, PageSize: pageSize}
		if category != "" {
			q.Category = &category
		}
		page, err := engine.Query.ListByOwner(context.Background(), q)
		if err != nil {
			return err
		}
		return recordsPageMsg{page: page, cursor: cursor}
	}
}

// pickRandom samples one of the owner's records, optionally within a category.
func pickRandom(engine *memories.Engine, owner string, category memories.Category) tea.Cmd {
	return func() tea.Msg {
		rec, err := engine.Sampler.RandomMatch(context.Background(), category, owner)
		if err != nil {
			return err
		}
		return randomRecordMsg{record: rec}
	}
}

func deleteRecord(engine *memories.Engine, owner, recordID string) tea.Cmd {
	return func() tea.Msg {
		if err := engine.Store.Delete(context.Background(), owner, recordID); err != nil {
			return err
		}
		return recordDeletedMsg{recordID: recordID}
	}
}

func listTags(engine *memories.Engine, owner string) tea.Cmd {
	return func() tea.Msg {
		tags, err := engine.Store.ListTags(context.Background(), owner)
		if err != nil {
			return err
		}
		return tagsMsg(tags)
	}
}

// Get database name and file path
func getDbPragmaList(db *sql.DB) (string, string) {
	var name, file string
	err := db.QueryRow(`PRAGMA database_list`).Scan(new(int), &name, &file)
	if err != nil {
		return name, file
	}
	return name, file
}
