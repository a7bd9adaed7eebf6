package repository

import "time"

const (
	ProblemStatusDraft     int32 = 0
	ProblemStatusPublished int32 = 1
	ProblemStatusArchived  int32 = 2
)

// Difficulty buckets used by the catalog and the recommendation engine.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Problem represents the catalog entry for one coding problem.
// Test case payloads live in the object-storage data pack referenced by
// DataPackKey; the row only carries the count and content hash.
type Problem struct {
	ID            int64
	Title         string
	Description   string
	Difficulty    string
	Tags          []string
	TimeLimitMS   int32
	MemoryLimitMB int32
	Status        int32
	OwnerID       int64
	TestCaseCount int32
	DataPackKey   string
	DataPackHash  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TestCase is one input/expected-output pair for a problem.
type TestCase struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
	IsSample bool   `json:"is_sample,omitempty"`
}

// ListFilter narrows problem catalog queries.
type ListFilter struct {
	Difficulty string
	Tag        string
	Keyword    string
	Status     *int32
	OwnerID    int64
	Page       int
	PageSize   int
}
