package domain

import "time"

// IndexMode selects which products a price index run visits.
type IndexMode string

// Index modes.
const (
	IndexModeFull        IndexMode = "full"
	IndexModeIncremental IndexMode = "incremental"
)

// IsValid checks whether the mode is known.
func (m IndexMode) IsValid() bool {
	return m == IndexModeFull || m == IndexModeIncremental
}

// TerminalCursor is returned once a run has visited every product.
const TerminalCursor int64 = -1

// PriceIndexJob is the resumable state of a price index run. It travels with
// the caller or in a continuation message, never in the database.
type PriceIndexJob struct {
	ID          string        `json:"id"`
	Mode        IndexMode     `json:"mode"`
	Cursor      int64         `json:"cursor"`
	Smart       bool          `json:"smart"`
	Interactive bool          `json:"-"`
	Budget      time.Duration `json:"-"`
}

// PriceIndexResult describes where an invocation stopped.
type PriceIndexResult struct {
	Cursor    int64 `json:"cursor"`
	Count     int   `json:"count"`
	Processed int   `json:"processed"`
	Done      bool  `json:"done"`
	Continued bool  `json:"continued"`
}

// PriceIndexStatus summarizes the state of the price index.
type PriceIndexStatus struct {
	Indexed          bool `json:"indexed"`
	IndexedProducts  int  `json:"indexed_products"`
	EligibleProducts int  `json:"eligible_products"`
}
