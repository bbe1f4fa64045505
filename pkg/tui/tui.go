package tui

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	textinput "github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/unowned-ai/resonance/pkg/memories"
)

const (
	focusCategories = iota
	focusRecords
)

// Options configures the browser.
type Options struct {
	Owner    string
	PageSize int
}

type model struct {
	engine     *memories.Engine
	dbFilename string

	owner        string
	ownerInput   textinput.Model
	editingOwner bool

	categories     []memories.Category // first entry is "" for all categories
	categoryCursor int

	records      []memories.Record
	recordCursor int
	pageSize     int
	cursors      []string // cursors[i] reads page i+1
	nextCursor   string
	hasMore      bool

	detail *memories.Record
	tags   []memories.TagCount
	status string
	err    error

	deleting         bool
	deleteConfirmIdx int // 0 = "Yes" selected, 1 = "No"

	columnFocus int
	width       int
	height      int
	quitting    bool
}

func initModel(engine *memories.Engine, dbFile string, opts Options) model {
	input := textinput.New()
	input.Placeholder = "Owner id"
	input.CharLimit = 256

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = memories.DefaultPageSize
	}

	m := model{
		engine:     engine,
		dbFilename: filepath.Base(dbFile),
		owner:      strings.TrimSpace(opts.Owner),
		ownerInput: input,
		categories: append([]memories.Category{""}, memories.Categories...),
		pageSize:   pageSize,
		cursors:    []string{""},
	}
	if m.owner == "" {
		m.editingOwner = true
		m.ownerInput.Focus()
	}
	return m
}

func (m model) Init() tea.Cmd {
	if m.editingOwner {
		return textinput.Blink
	}
	return m.reload()
}

func (m model) category() memories.Category {
	return m.categories[m.categoryCursor]
}

// reload restarts paging at the first page and refreshes tags.
func (m *model) reload() tea.Cmd {
	m.cursors = []string{""}
	return tea.Batch(
		listRecords(m.engine, m.owner, m.category(), "", m.pageSize),
		listTags(m.engine, m.owner),
	)
}

func (m model) currentCursor() string {
	return m.cursors[len(m.cursors)-1]
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case error:
		m.err = msg
		return m, nil

	case recordsPageMsg:
		m.records = msg.page.Records
		m.nextCursor = msg.page.NextCursor
		m.hasMore = msg.page.HasMore
		m.recordCursor = 0
		m.detail = nil
		if len(m.records) > 0 {
			rec := m.records[0]
			m.detail = &rec
		} else if m.columnFocus == focusRecords {
			m.columnFocus = focusCategories
		}
		return m, nil

	case randomRecordMsg:
		rec := msg.record
		m.detail = &rec
		m.status = "random pick"
		return m, nil

	case recordDeletedMsg:
		m.status = fmt.Sprintf("deleted %s", msg.recordID)
		return m, tea.Batch(
			listRecords(m.engine, m.owner, m.category(), m.currentCursor(), m.pageSize),
			listTags(m.engine, m.owner),
		)

	case tagsMsg:
		m.tags = msg
		return m, nil

	case tea.KeyMsg:
		m.err = nil
		if m.editingOwner {
			return m.updateOwnerInput(msg)
		}
		if m.deleting {
			return m.updateDeleteConfirm(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m model) updateOwnerInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		owner := strings.TrimSpace(m.ownerInput.Value())
		if owner == "" {
			m.err = errors.New("owner id cannot be empty")
			return m, nil
		}
		m.owner = owner
		m.editingOwner = false
		m.ownerInput.Blur()
		m.ownerInput.Reset()
		m.status = ""
		cmd := m.reload()
		return m, cmd
	case tea.KeyEsc:
		if m.owner == "" {
			m.quitting = true
			return m, tea.Quit
		}
		m.editingOwner = false
		m.ownerInput.Blur()
		m.ownerInput.Reset()
		return m, nil
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.ownerInput, cmd = m.ownerInput.Update(msg)
	return m, cmd
}

func (m model) updateDeleteConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.deleteConfirmIdx = 0
	case "down", "j":
		m.deleteConfirmIdx = 1
	case "enter":
		m.deleting = false
		if m.deleteConfirmIdx == 0 && len(m.records) > 0 {
			return m, deleteRecord(m.engine, m.owner, m.records[m.recordCursor].RecordID)
		}
	case "esc":
		m.deleting = false
	}
	return m, nil
}

func (m model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Sequence(tea.ExitAltScreen, tea.Quit)

	case "up", "k":
		if m.columnFocus == focusCategories && m.categoryCursor > 0 {
			m.categoryCursor--
			cmd := m.reload()
			return m, cmd
		}
		if m.columnFocus == focusRecords && m.recordCursor > 0 {
			m.recordCursor--
			rec := m.records[m.recordCursor]
			m.detail = &rec
		}

	case "down", "j":
		if m.columnFocus == focusCategories && m.categoryCursor < len(m.categories)-1 {
			m.categoryCursor++
			cmd := m.reload()
			return m, cmd
		}
		if m.columnFocus == focusRecords && m.recordCursor < len(m.records)-1 {
			m.recordCursor++
			rec := m.records[m.recordCursor]
			m.detail = &rec
		}

	case "right", "l":
		if m.columnFocus == focusCategories && len(m.records) > 0 {
			m.columnFocus = focusRecords
			rec := m.records[m.recordCursor]
			m.detail = &rec
		}

	case "left", "h":
		m.columnFocus = focusCategories

	case "n":
		if m.hasMore && m.nextCursor != "" {
			m.cursors = append(m.cursors, m.nextCursor)
			return m, listRecords(m.engine, m.owner, m.category(), m.nextCursor, m.pageSize)
		}

	case "p":
		if len(m.cursors) > 1 {
			m.cursors = m.cursors[:len(m.cursors)-1]
			return m, listRecords(m.engine, m.owner, m.category(), m.currentCursor(), m.pageSize)
		}

	case "r":
		return m, pickRandom(m.engine, m.owner, m.category())

	case "d":
		if m.columnFocus == focusRecords && len(m.records) > 0 {
			m.deleteConfirmIdx = 1
			m.deleting = true
		}

	case "o":
		m.editingOwner = true
		m.ownerInput.SetValue(m.owner)
		m.ownerInput.Focus()
		return m, textinput.Blink
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return "Resonance closed.\n"
	}

	titleText := "Resonance - audio memories"
	if m.owner != "" {
		titleText += " of " + m.owner
	}
	titleBar := titleStyle.Width(m.width).Render(titleText)

	leftWidth, middleWidth, rightWidth := m.columnWidths()
	height := m.height - panelHeightPadding

	leftPanel := columnStyle.Width(leftWidth).Height(height).Render(m.viewCategories(leftWidth))
	middlePanel := columnStyle.Width(middleWidth).Height(height).Render(m.viewRecords(middleWidth))
	rightPanel := lipgloss.NewStyle().Padding(0, 2).Width(rightWidth).Height(height).
		Render(m.viewDetail(rightWidth))

	columns := lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, middlePanel, rightPanel)

	footerText := "\n↑/↓ navigate • ←/→ switch column • n/p page • r random • d delete • o owner • q quit"
	footerBar := footerStyle.Width(m.width).Render(footerText)

	return titleBar + "\n\n" + columns + footerBar
}

func (m model) viewCategories(width int) string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Width(width - bordersAndPaddingWidth).Render("  Categories"))
	b.WriteString("\n\n")

	for i, c := range m.categories {
		label := string(c)
		if c == "" {
			label = "all"
		}
		pointer, style := "  ", inactiveStyle
		if i == m.categoryCursor {
			style = selectedStyle
			if m.columnFocus == focusCategories {
				pointer = "> "
			}
		}
		b.WriteString(pointer + style.Render(label) + "\n")
	}

	b.WriteString("\n")
	dbStatus := 2
	if m.dbFilename != "" {
		dbStatus = 1
	}
	b.WriteString("Database: " + TextStatusColorize(m.dbFilename, dbStatus) + "\n")
	if len(m.tags) > 0 {
		b.WriteString("\n" + labelStyle.Render("Tags") + "\n")
		for i, tc := range m.tags {
			if i == 10 {
				break
			}
			b.WriteString(tagStyle.Render(fmt.Sprintf("%s (%d)", tc.Tag, tc.Count)) + "\n")
		}
	}
	return b.String()
}

func (m model) viewRecords(width int) string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Width(width - bordersAndPaddingWidth).Render("  Records"))
	b.WriteString("\n\n")

	if m.owner == "" {
		b.WriteString("  No owner selected.\n")
		return b.String()
	}
	if len(m.records) == 0 {
		b.WriteString("  No records.\n")
		return b.String()
	}

	available := width - 2 - bordersAndPaddingWidth - 1
	for i, rec := range m.records {
		pointer, style := "  ", inactiveStyle
		if i == m.recordCursor && m.columnFocus == focusRecords {
			pointer, style = "> ", selectedStyle
		}
		line := truncate(fmt.Sprintf("%s  %s", formatTime(rec.CreatedAt), rec.Category), available)
		b.WriteString(pointer + style.Render(line) + "\n")
	}
	b.WriteString("\n" + footerStyle.Render(pageLabel(len(m.cursors), m.hasMore)) + "\n")
	return b.String()
}

func (m model) viewDetail(width int) string {
	var b strings.Builder

	subtitle := "Record"
	switch {
	case m.editingOwner:
		subtitle = "Select Owner"
	case m.deleting:
		subtitle = "Delete Record"
	}
	b.WriteString(subtitleStyle.Width(width - bordersAndPaddingWidth).Render(subtitle))
	b.WriteString("\n\n")

	switch {
	case m.editingOwner:
		m.ownerInput.Width = width - bordersAndPaddingWidth
		b.WriteString("Owner: " + m.ownerInput.View() + "\n\n")
		b.WriteString("(enter to submit, esc to cancel)")
	case m.deleting:
		rec := m.records[m.recordCursor]
		b.WriteString("Record: " + errorStyle.Render(rec.RecordID) + "\n\n")
		yesOpt, noOpt := "Yes", "No"
		if m.deleteConfirmIdx == 0 {
			yesOpt = dangerSelectedStyle.Render(" >" + yesOpt)
			noOpt = inactiveStyle.Render("  " + noOpt)
		} else {
			yesOpt = inactiveStyle.Render("  " + yesOpt)
			noOpt = selectedStyle.Render(" >" + noOpt)
		}
		b.WriteString(fmt.Sprintf("%s\n%s\n\n", yesOpt, noOpt))
		b.WriteString("(enter to confirm, esc to cancel, up/down to switch)")
	case m.detail != nil:
		b.WriteString(renderRecord(*m.detail))
	default:
		b.WriteString("Select a record to view details.")
	}

	if m.status != "" {
		b.WriteString("\n\n" + footerStyle.Render(m.status))
	}
	if m.err != nil {
		b.WriteString("\n\n" + errorStyle.Render(describeError(m.err)))
	}
	return b.String()
}

func renderRecord(rec memories.Record) string {
	var b strings.Builder
	field := func(label, value string) {
		b.WriteString(labelStyle.Render(label+": ") + value + "\n")
	}
	field("Id", rec.RecordID)
	field("Category", categoryBadge(rec.Category))
	if rec.DetectedCategory != nil {
		field("Detected", categoryBadge(memories.Category(*rec.DetectedCategory)))
	}
	field("Created", formatTime(rec.CreatedAt))
	field("Payload", rec.PayloadRef)
	tags := "-"
	if len(rec.Tags) > 0 {
		tags = strings.Join(rec.Tags, " ")
	}
	field("Tags", tagStyle.Render(tags))
	reminder := "-"
	if rec.NextReminderAt != nil {
		reminder = formatTime(*rec.NextReminderAt)
	}
	field("Next reminder", reminder)
	field("Version", fmt.Sprint(rec.Version))
	if rec.Transcript != nil {
		b.WriteString("\n" + inactiveStyle.Render(*rec.Transcript))
	}
	return b.String()
}

func describeError(err error) string {
	switch {
	case errors.Is(err, memories.ErrNoMatch):
		return "No records to pick from."
	case errors.Is(err, memories.ErrNotFound):
		return "Record no longer exists."
	default:
		return "Error: " + err.Error()
	}
}

// ShowTUI starts the record browser on the terminal.
func ShowTUI(engine *memories.Engine, db *sql.DB, opts Options) error {
	_, file := getDbPragmaList(db)
	p := tea.NewProgram(initModel(engine, file, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
