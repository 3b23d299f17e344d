package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewProtocol distinguishes blind review from final (unblinded) review.
type ReviewProtocol string

const (
	ProtocolBlindReview ReviewProtocol = "BLIND_REVIEW"
	ProtocolFinalReview ReviewProtocol = "FINAL_REVIEW"
)

// BlindReviewInfo tells the review surface whether a case must be reviewed
// blind, and under which aliases its subjects appear.
type BlindReviewInfo struct {
	JurisdictionID      string          `json:"jurisdictionId"`
	CaseID              string          `json:"caseId"`
	BlindReviewRequired bool            `json:"blindReviewRequired"`
	MaskedSubjects      []MaskedSubject `json:"maskedSubjects"`
}

// Exposure records which information was presented to a reviewer, and when,
// prior to a charging decision. Required for all cases in the experiment,
// for both blind and final review.
type Exposure struct {
	ID               uuid.UUID      `db:"id"                json:"id"`
	JurisdictionID   string         `db:"jurisdiction_id"   json:"jurisdictionId"`
	CaseID           string         `db:"case_id"           json:"caseId"`
	SubjectID        string         `db:"subject_id"        json:"subjectId"`
	ReviewerMaskedID string         `db:"reviewer_masked_id" json:"reviewingAttorneyMaskedId"`
	DocumentIDs      []string       `db:"document_ids"      json:"documentIds"`
	Protocol         ReviewProtocol `db:"protocol"          json:"protocol"`
	CreatedAt        time.Time      `db:"created_at"        json:"createdAt"`
}

// ReviewTimestamps brackets the reviewer's session.
type ReviewTimestamps struct {
	PageOpen time.Time `json:"pageOpen"`
	Decision time.Time `json:"decision"`
}

// Outcome records a charging decision made by a reviewer.
type Outcome struct {
	ID               uuid.UUID      `db:"id"                json:"id"`
	JurisdictionID   string         `db:"jurisdiction_id"   json:"jurisdictionId"`
	CaseID           string         `db:"case_id"           json:"caseId"`
	SubjectID        string         `db:"subject_id"        json:"subjectId"`
	ReviewerMaskedID string         `db:"reviewer_masked_id" json:"reviewingAttorneyMaskedId"`
	DocumentIDs      []string       `db:"document_ids"      json:"documentIds"`
	Protocol         ReviewProtocol `db:"protocol"          json:"protocol"`
	Decision         string         `db:"decision"          json:"decision"`
	Explanation      *string        `db:"explanation"       json:"explanation,omitempty"`
	Disqualifiers    []string       `db:"disqualifiers"     json:"disqualifiers,omitempty"`
	PageOpenAt       time.Time      `db:"page_open_at"      json:"-"`
	DecisionAt       time.Time      `db:"decision_at"       json:"-"`
	CreatedAt        time.Time      `db:"created_at"        json:"createdAt"`
}
