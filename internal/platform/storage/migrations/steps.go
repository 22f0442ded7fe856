// Package migrations holds the chart_verdicts schema history. Steps receive
// the SQL dialect so column types can follow each backend.
package migrations

import "gorm.io/gorm"

// Step is one versioned schema change. Versions sort lexically.
type Step struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB, dialect string) error
	Down        func(tx *gorm.DB, dialect string) error
}

// All returns the schema history in apply order.
func All() []Step {
	return []Step{verdictTable, verdictIndexes}
}
