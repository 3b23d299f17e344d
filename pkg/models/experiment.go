package models

import (
	"time"

	"github.com/google/uuid"
)

// ExperimentConfig is one immutable version of the randomization ruleset
// governing blind-review eligibility. Versions are append-only: a "change" is
// a new version whose Parent points at its predecessor. At most one version
// is active at any time.
type ExperimentConfig struct {
	Version     uuid.UUID  `db:"version"     json:"version"`
	Blob        string     `db:"blob"        json:"blob"`
	Active      bool       `db:"active"      json:"active"`
	Parent      *uuid.UUID `db:"parent"      json:"parent,omitempty"`
	Name        *string    `db:"name"        json:"name,omitempty"`
	Description *string    `db:"description" json:"description,omitempty"`
	Author      *string    `db:"author"      json:"author,omitempty"`
	CreatedAt   time.Time  `db:"created_at"  json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at"  json:"updatedAt"`
}
