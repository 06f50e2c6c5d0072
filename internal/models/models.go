package models

import (
	"time"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Source is a web document the model consulted while grounding an answer.
// The URI identifies it inside one response.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Citation attributes the byte span [StartIndex, EndIndex) of an answer to the
// source identified by URI. Either index may be missing on the wire.
type Citation struct {
	StartIndex *int   `json:"start_index,omitempty"`
	EndIndex   *int   `json:"end_index,omitempty"`
	URI        string `json:"uri"`
	License    string `json:"license,omitempty"`
}

// ComparisonTableData is a table embedded in an answer. Every row has
// len(Headers) cells.
type ComparisonTableData struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Direction is the natural reading direction of a piece of text.
type Direction string

const (
	DirectionLTR Direction = "ltr"
	DirectionRTL Direction = "rtl"
)

// RenderedContent is the view handed to a renderer. It is recomputed on every
// render and never stored.
type RenderedContent struct {
	Prose     string               `json:"prose"`
	Table     *ComparisonTableData `json:"table"`
	Direction Direction            `json:"direction"`
}

// FinalView is the outcome of a completed response.
type FinalView struct {
	Prose     string               `json:"prose"`
	Table     *ComparisonTableData `json:"table"`
	Sources   []Source             `json:"sources"`
	Citations []Citation           `json:"citations"`
}

// StreamChunk is one element of a model stream. Err is set on the last chunk
// when the stream fails.
type StreamChunk struct {
	Text      string
	Sources   []Source
	Citations []Citation
	Err       error
}

// ChatSession groups the messages of one conversation.
type ChatSession struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message formats. FormatSplit records hold prose that already carries
// citation markers and a separate table; FormatRaw records hold unsplit
// model text from before the table split existed.
const (
	FormatSplit = "split"
	FormatRaw   = "raw"
)

// ChatMessage represents an individual chat message (user or assistant).
type ChatMessage struct {
	ID        string               `db:"id" json:"id"`
	SessionID string               `db:"session_id" json:"session_id"`
	Role      string               `db:"role" json:"role"`       // "user" or "assistant"
	Content   string               `db:"content" json:"content"` // message text
	Table     *ComparisonTableData `db:"table_data" json:"table,omitempty"`
	Sources   []Source             `db:"sources" json:"sources,omitempty"`
	Citations []Citation           `db:"citations" json:"citations,omitempty"`
	Format    string               `db:"format" json:"format"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
}

// MessageMatch is a stored answer returned by a similarity search.
type MessageMatch struct {
	MessageID string  `json:"message_id"`
	SessionID string  `json:"session_id"`
	Snippet   string  `json:"snippet"`
	Distance  float64 `json:"distance"`
}
