package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a redaction job.
type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobComplete   JobStatus = "COMPLETE"
	JobError      JobStatus = "ERROR"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool { return s == JobComplete || s == JobError }

// OutputFormat selects how a completed redaction is rendered when uploaded
// to the caller's target blob URL.
type OutputFormat string

const (
	FormatText OutputFormat = "TEXT"
	FormatJSON OutputFormat = "JSON"
	FormatHTML OutputFormat = "HTML"
)

// RedactionJob tracks one document through the redaction lifecycle.
// Created when a request is accepted, mutated only by the worker that holds
// its lease, terminal once COMPLETE or ERROR. Placeholders maps every known
// rendering of a subject's name to that subject's alias and is persisted at
// submit time so any worker can process the job.
type RedactionJob struct {
	ID             uuid.UUID         `db:"id"               json:"id"`
	JurisdictionID string            `db:"jurisdiction_id"  json:"jurisdictionId"`
	CaseID         string            `db:"case_id"          json:"caseId"`
	DocumentID     string            `db:"document_id"      json:"documentId"`
	Document       Document          `db:"document"         json:"document"`
	MaskedSubjects []MaskedSubject   `db:"masked_subjects"  json:"maskedSubjects"`
	Placeholders   map[string]string `db:"placeholders"     json:"-"`
	Status         JobStatus         `db:"status"           json:"status"`
	StatusDetail   *string           `db:"status_detail"    json:"statusDetail,omitempty"`
	Result         *RedactedDocument `db:"result"           json:"result,omitempty"`
	Error          *string           `db:"error"            json:"error,omitempty"`
	CallbackURL    string            `db:"callback_url"     json:"callbackUrl,omitempty"`
	TargetBlobURL  *string           `db:"target_blob_url"  json:"targetBlobUrl,omitempty"`
	OutputFormat   OutputFormat      `db:"output_format"    json:"outputFormat,omitempty"`
	Attempts       int               `db:"attempts"         json:"attempts"`
	LeaseExpiresAt *time.Time        `db:"lease_expires_at" json:"-"`
	CreatedAt      time.Time         `db:"created_at"       json:"createdAt"`
	UpdatedAt      time.Time         `db:"updated_at"       json:"updatedAt"`
}

// CallbackAttempt records one delivery attempt against a job's callback URL.
type CallbackAttempt struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	JobID        uuid.UUID `db:"job_id"        json:"jobId"`
	StatusCode   int       `db:"status_code"   json:"statusCode"`
	ResponseBody string    `db:"response_body" json:"responseBody,omitempty"`
	CreatedAt    time.Time `db:"created_at"    json:"createdAt"`
}
