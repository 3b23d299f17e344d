// Package models contains shared data models used across the redactor codebase.
package models

import (
	"encoding/base64"
	"fmt"
)

// AttachmentType discriminates how a document's content is supplied.
type AttachmentType string

const (
	AttachmentLink   AttachmentType = "LINK"
	AttachmentText   AttachmentType = "TEXT"
	AttachmentBase64 AttachmentType = "BASE64"
)

// Document is one input document of a redaction request. Immutable once
// ingested; content is resolved by the fetch step according to AttachmentType.
type Document struct {
	DocumentID     string         `json:"documentId"`
	AttachmentType AttachmentType `json:"attachmentType"`
	URL            string         `json:"url,omitempty"`
	Content        string         `json:"content,omitempty"`
}

// Validate checks that the document carries the fields its attachment type requires.
func (d Document) Validate() error {
	if d.DocumentID == "" {
		return fmt.Errorf("documentId is required")
	}
	switch d.AttachmentType {
	case AttachmentLink:
		if d.URL == "" {
			return fmt.Errorf("document %s: url is required for LINK attachments", d.DocumentID)
		}
	case AttachmentText:
		if d.Content == "" {
			return fmt.Errorf("document %s: content is required for TEXT attachments", d.DocumentID)
		}
	case AttachmentBase64:
		if d.Content == "" {
			return fmt.Errorf("document %s: content is required for BASE64 attachments", d.DocumentID)
		}
		if _, err := base64.StdEncoding.DecodeString(d.Content); err != nil {
			return fmt.Errorf("document %s: content is not valid base64: %w", d.DocumentID, err)
		}
	default:
		return fmt.Errorf("document %s: unsupported attachment type %q", d.DocumentID, d.AttachmentType)
	}
	return nil
}

// RedactionTarget pairs a document with its delivery instructions.
type RedactionTarget struct {
	Document      Document `json:"document"`
	CallbackURL   string   `json:"callbackUrl,omitempty"`
	TargetBlobURL string   `json:"targetBlobUrl,omitempty"`
}

// Person identifies a case participant by the names that may appear in documents.
type Person struct {
	SubjectID string   `json:"subjectId"`
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases,omitempty"`
}

// Names returns every known rendering of the person's name, primary first.
func (p Person) Names() []string {
	names := make([]string, 0, 1+len(p.Aliases))
	if p.Name != "" {
		names = append(names, p.Name)
	}
	names = append(names, p.Aliases...)
	return names
}

// Subject binds a person to their role in the case (e.g. "accused", "victim").
type Subject struct {
	Role   string `json:"role"`
	Person Person `json:"subject"`
}

// MaskedSubject is a case participant identified only by a stable per-case alias.
type MaskedSubject struct {
	SubjectID string `json:"subjectId"`
	Alias     string `json:"alias"`
}
