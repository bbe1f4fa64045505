package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/unowned-ai/resonance/pkg/memories"
)

// Color palette "Blue Moon" from https://gogh-co.github.io/Gogh/
const (
	colorGray     = "#353b52"
	colorWhite    = "#ffffff"
	colorGreen    = "#acfab4"
	colorGreenDim = "#b4c4b4"
	colorRed      = "#e61f44"
	colorRedDim   = "#d06178"
	colorPurple   = "#b9a3eb"
	colorBlue     = "#89ddff"
	colorYellow   = "#ffd479"

	bordersAndPaddingWidth = 4
	panelHeightPadding     = 3
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color(colorBlue)).
			Background(lipgloss.Color(colorGray)).
			Padding(0, 2).Align(lipgloss.Center)
	subtitleStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color(colorBlue))
	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorGray)).
			Background(lipgloss.Color(colorGreen))
	dangerSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color(colorGray)).
				Background(lipgloss.Color(colorRed))
	inactiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorWhite))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorBlue))
	tagStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color(colorPurple))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed))
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray))

	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(lipgloss.Color(colorGray)).
			Padding(0, 2)
)

// Warm emotions render green, heavy ones red, the rest yellow.
var categoryColors = map[memories.Category]string{
	memories.CategoryJoy:       colorGreen,
	memories.CategoryCalm:      colorGreen,
	memories.CategoryGratitude: colorGreen,
	memories.CategoryLove:      colorGreen,
	memories.CategoryHope:      colorGreen,
	memories.CategoryNostalgia: colorYellow,
	memories.CategorySurprise:  colorYellow,
	memories.CategorySadness:   colorRedDim,
	memories.CategoryAnger:     colorRedDim,
	memories.CategoryFear:      colorRedDim,
	memories.CategoryAnxiety:   colorRedDim,
}

func categoryBadge(c memories.Category) string {
	color, ok := categoryColors[c]
	if !ok {
		color = colorGray
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(string(c))
}

// TextStatusColorize colors text by status: 1 green, 2 red, anything else gray.
func TextStatusColorize(text string, status int) string {
	switch status {
	case 1:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreenDim)).Render(text)
	case 2:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(colorRedDim)).Render(text)
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)).Render(text)
	}
}

// truncate shortens text to width, ending with two dots when cut.
func truncate(text string, width int) string {
	if width <= 3 || len(text) <= width {
		return text
	}
	return text[:width-2] + ".."
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}

func (m model) columnWidths() (int, int, int) {
	switch m.columnFocus {
	case focusCategories:
		left := (m.width * 25) / 100
		middle := (m.width * 40) / 100
		return left, middle, m.width - left - middle
	default:
		left := (m.width * 20) / 100
		middle := (m.width * 35) / 100
		return left, middle, m.width - left - middle
	}
}

func pageLabel(pageNum int, hasMore bool) string {
	if hasMore {
		return fmt.Sprintf("page %d (n for more)", pageNum)
	}
	return fmt.Sprintf("page %d", pageNum)
}
