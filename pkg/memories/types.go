package memories

import (
	"fmt"
	"strings"
	"time"
)

// Category is an emotion label from the fixed set in Categories.
type Category string

const (
	CategoryJoy       Category = "joy"
	CategoryCalm      Category = "calm"
	CategoryGratitude Category = "gratitude"
	CategoryLove      Category = "love"
	CategoryNostalgia Category = "nostalgia"
	CategoryHope      Category = "hope"
	CategorySadness   Category = "sadness"
	CategoryAnger     Category = "anger"
	CategoryFear      Category = "fear"
	CategoryAnxiety   Category = "anxiety"
	CategorySurprise  Category = "surprise"
)

// Categories lists every valid emotion label.
var Categories = []Category{
	CategoryJoy,
	CategoryCalm,
	CategoryGratitude,
	CategoryLove,
	CategoryNostalgia,
	CategoryHope,
	CategorySadness,
	CategoryAnger,
	CategoryFear,
	CategoryAnxiety,
	CategorySurprise,
}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory normalizes case and surrounding whitespace.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidRecord, s)
	}
	return c, nil
}

// Record is a single stored audio memory.
type Record struct {
	OwnerID          string     `json:"owner_id"`
	RecordID         string     `json:"record_id"`
	Category         Category   `json:"category"`
	CreatedAt        time.Time  `json:"created_at"`
	PayloadRef       string     `json:"payload_ref"`
	Tags             []string   `json:"tags"`
	Transcript       *string    `json:"transcript,omitempty"`
	DetectedCategory *string    `json:"detected_category,omitempty"`
	NextReminderAt   *time.Time `json:"next_reminder_at,omitempty"`
	Active           bool       `json:"active"`
	Version          int64      `json:"version"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Mutation is a partial update. Nil fields are left unchanged.
// Owner, id, creation time and payload reference are immutable.
type Mutation struct {
	Category         *Category  `json:"category,omitempty"`
	Tags             *[]string  `json:"tags,omitempty"`
	Transcript       *string    `json:"transcript,omitempty"`
	DetectedCategory *string    `json:"detected_category,omitempty"`
	NextReminderAt   *time.Time `json:"next_reminder_at,omitempty"`
	// ClearNextReminder unsets NextReminderAt; it wins over NextReminderAt.
	ClearNextReminder bool  `json:"clear_next_reminder,omitempty"`
	Active            *bool `json:"active,omitempty"`
}

// IsEmpty reports whether the mutation changes nothing.
func (m Mutation) IsEmpty() bool {
	return m.Category == nil &&
		m.Tags == nil &&
		m.Transcript == nil &&
		m.DetectedCategory == nil &&
		m.NextReminderAt == nil &&
		!m.ClearNextReminder &&
		m.Active == nil
}

// Page is one cursor-paginated slice of a query result.
type Page struct {
	Records    []Record `json:"records"`
	NextCursor string   `json:"next_cursor"`
	HasMore    bool     `json:"has_more"`
	PageSize   int      `json:"page_size"`
}

// TagCount is the number of an owner's active records carrying a tag.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// ReminderEvent is emitted by the scheduler when a record's reminder is due.
type ReminderEvent struct {
	EventID           string    `json:"event_id"`
	OwnerID           string    `json:"owner_id"`
	RecordID          string    `json:"record_id"`
	Category          Category  `json:"category"`
	OriginalCreatedAt time.Time `json:"original_created_at"`
	DueAt             time.Time `json:"due_at"`
}
