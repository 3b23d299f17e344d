// Package alias assigns stable per-case aliases to case participants. A
// subject keeps the same alias across every document in a case, so reviewers
// can follow "Person A" through the narrative without learning who they are.
package alias

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blindreview/redactor/internal/cache"
	"github.com/blindreview/redactor/internal/store"
	"github.com/blindreview/redactor/pkg/models"
)

const cacheTTL = 24 * time.Hour

// Service assigns and resolves per-case aliases. The store is authoritative;
// the cache is a read-through layer in front of it.
type Service struct {
	store store.Store
	cache cache.Cache
}

func NewService(st store.Store, c cache.Cache) *Service {
	return &Service{store: st, cache: c}
}

// Assign returns a masked subject for every requested subject, reusing any
// alias the case has already assigned. First write wins: concurrent requests
// for the same case converge on one alias per subject.
func (s *Service) Assign(ctx context.Context, jurisdictionID, caseID string, subjects []models.Subject) ([]models.MaskedSubject, error) {
	existing, err := s.store.GetMaskedSubjects(ctx, jurisdictionID, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case aliases: %w", err)
	}

	byID := make(map[string]string, len(existing))
	used := make(map[string]bool, len(existing))
	for _, m := range existing {
		byID[m.SubjectID] = m.Alias
		used[m.Alias] = true
	}

	var fresh []models.MaskedSubject
	next := 0
	for _, sub := range subjects {
		id := sub.Person.SubjectID
		if _, ok := byID[id]; ok {
			continue
		}
		label := Label(next)
		for used[label] {
			next++
			label = Label(next)
		}
		used[label] = true
		byID[id] = label
		fresh = append(fresh, models.MaskedSubject{SubjectID: id, Alias: label})
	}

	if len(fresh) > 0 {
		if err := s.store.SaveMaskedSubjects(ctx, jurisdictionID, caseID, fresh); err != nil {
			return nil, fmt.Errorf("save case aliases: %w", err)
		}
		// Re-read so a lost first-write race yields the winner's aliases.
		saved, err := s.store.GetMaskedSubjects(ctx, jurisdictionID, caseID)
		if err != nil {
			return nil, fmt.Errorf("reload case aliases: %w", err)
		}
		for _, m := range saved {
			byID[m.SubjectID] = m.Alias
		}
		s.refreshCache(ctx, jurisdictionID, caseID, saved)
	}

	masked := make([]models.MaskedSubject, 0, len(subjects))
	for _, sub := range subjects {
		id := sub.Person.SubjectID
		masked = append(masked, models.MaskedSubject{SubjectID: id, Alias: byID[id]})
	}
	return masked, nil
}

// Lookup returns the case's full alias table, consulting the cache first.
func (s *Service) Lookup(ctx context.Context, jurisdictionID, caseID string) ([]models.MaskedSubject, error) {
	if s.cache != nil {
		raw, found, err := s.cache.Get(ctx, cache.CaseAliasesKey(jurisdictionID, caseID))
		if err == nil && found {
			var masked []models.MaskedSubject
			if err := json.Unmarshal(raw, &masked); err == nil {
				return masked, nil
			}
		}
	}
	masked, err := s.store.GetMaskedSubjects(ctx, jurisdictionID, caseID)
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, jurisdictionID, caseID, masked)
	return masked, nil
}

func (s *Service) refreshCache(ctx context.Context, jurisdictionID, caseID string, masked []models.MaskedSubject) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(masked)
	if err != nil {
		return
	}
	// Cache misses fall back to the store; a failed set is not an error.
	_ = s.cache.Set(ctx, cache.CaseAliasesKey(jurisdictionID, caseID), raw, cacheTTL)
}

// Placeholders maps every known rendering of each subject's name to that
// subject's alias, for the redaction stages.
func Placeholders(subjects []models.Subject, masked []models.MaskedSubject) map[string]string {
	byID := make(map[string]string, len(masked))
	for _, m := range masked {
		byID[m.SubjectID] = m.Alias
	}
	out := make(map[string]string)
	for _, sub := range subjects {
		alias, ok := byID[sub.Person.SubjectID]
		if !ok {
			continue
		}
		for _, name := range sub.Person.Names() {
			out[name] = alias
		}
	}
	return out
}

// SubjectAliases maps subject ID to alias, for the quality inspection stage.
func SubjectAliases(masked []models.MaskedSubject) map[string]string {
	out := make(map[string]string, len(masked))
	for _, m := range masked {
		out[m.SubjectID] = m.Alias
	}
	return out
}

// Label renders the i-th alias: "Person A" through "Person Z", then
// "Person AA" onward.
func Label(i int) string {
	var suffix []byte
	n := i
	for {
		suffix = append([]byte{byte('A' + n%26)}, suffix...)
		n = n/26 - 1
		if n < 0 {
			break
		}
	}
	return "Person " + string(suffix)
}
