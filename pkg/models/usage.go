package models

import "time"

// ToolType identifies a metered tool
type ToolType string

const (
	ToolBioGenerator ToolType = "bio_generator"
	ToolCoverLetter  ToolType = "cover_letter"
)

// AllTools lists every metered tool
var AllTools = []ToolType{ToolBioGenerator, ToolCoverLetter}

// ParseToolType validates a tool name
func ParseToolType(s string) (ToolType, bool) {
	switch ToolType(s) {
	case ToolBioGenerator, ToolCoverLetter:
		return ToolType(s), true
	default:
		return "", false
	}
}

// UsageDateLayout is the day granularity usage records are stored at
const UsageDateLayout = "2006-01-02"

// UsageRecord is one metered invocation. Records are append-only.
type UsageRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ToolType  ToolType  `json:"tool_type"`
	Date      string    `json:"date"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageDay formats t as a usage record date (UTC)
func UsageDay(t time.Time) string {
	return t.UTC().Format(UsageDateLayout)
}
