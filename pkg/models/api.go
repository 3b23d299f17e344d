package models

// RedactionRequest is the body of POST /api/v1/redact. One job is created per
// entry in Objects; acceptance is decoupled from completion.
type RedactionRequest struct {
	JurisdictionID string            `json:"jurisdictionId"`
	CaseID         string            `json:"caseId"`
	Subjects       []Subject         `json:"subjects"`
	Objects        []RedactionTarget `json:"objects"`
	OutputFormat   OutputFormat      `json:"outputFormat,omitempty"`
}

// RedactionResult describes one job in a status response or callback body,
// discriminated on Status. RedactedDocument is present only for COMPLETE,
// Error only for ERROR; pending states carry neither.
type RedactionResult struct {
	JurisdictionID   string            `json:"jurisdictionId"`
	CaseID           string            `json:"caseId"`
	InputDocumentID  string            `json:"inputDocumentId"`
	MaskedSubjects   []MaskedSubject   `json:"maskedSubjects"`
	Status           JobStatus         `json:"status"`
	RedactedDocument *RedactedDocument `json:"redactedDocument,omitempty"`
	TargetBlobURL    *string           `json:"targetBlobUrl,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// ResultFromJob projects a job into its API representation.
func ResultFromJob(job *RedactionJob) RedactionResult {
	res := RedactionResult{
		JurisdictionID:  job.JurisdictionID,
		CaseID:          job.CaseID,
		InputDocumentID: job.DocumentID,
		MaskedSubjects:  job.MaskedSubjects,
		Status:          job.Status,
		TargetBlobURL:   job.TargetBlobURL,
	}
	if res.MaskedSubjects == nil {
		res.MaskedSubjects = []MaskedSubject{}
	}
	switch job.Status {
	case JobComplete:
		res.RedactedDocument = job.Result
	case JobError:
		if job.Error != nil {
			res.Error = *job.Error
		}
	}
	return res
}

// RedactionStatus is the body of GET /api/v1/redact/{jurisdictionID}/{caseID}.
type RedactionStatus struct {
	JurisdictionID string            `json:"jurisdictionId"`
	CaseID         string            `json:"caseId"`
	Requests       []RedactionResult `json:"requests"`
}
