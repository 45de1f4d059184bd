package domain

import (
	"time"

	"gorm.io/datatypes"
)

// MatchType classifies a DuplicateEdge by confidence band, per §4.8's
// threshold table.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchFuzzy    MatchType = "fuzzy"
	MatchProbable MatchType = "probable"
	MatchPossible MatchType = "possible"
)

// DuplicateEdge records that two CanonicalTrials are believed to refer
// to the same underlying study. Edges are stored in canonical order
// (primary_key, duplicate_key) with primary_key < duplicate_key
// lexicographically at the storage layer, so cycles are impossible by
// construction (§9).
type DuplicateEdge struct {
	ID           uint                        `gorm:"primaryKey;autoIncrement" json:"id"`
	PrimaryKey   string                      `gorm:"column:primary_key;index:idx_dup_pair,unique" json:"primary_key"`
	DuplicateKey string                      `gorm:"column:duplicate_key;index:idx_dup_pair,unique" json:"duplicate_key"`
	Score        float64                     `gorm:"column:score" json:"score"`
	Reasons      datatypes.JSONType[[]string] `gorm:"column:reasons" json:"reasons"`
	MatchType    MatchType                   `gorm:"column:match_type" json:"match_type"`
	Verified     bool                        `gorm:"column:verified" json:"verified"`
	CreatedAt    time.Time                   `gorm:"column:created_at" json:"created_at"`
}

func (DuplicateEdge) TableName() string { return "trial_duplicates" }
