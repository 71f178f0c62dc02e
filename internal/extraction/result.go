package extraction

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
)

type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Deadline struct {
	Label string `json:"label,omitempty"`
	Date  string `json:"date,omitempty"`
}

// Payload is the structured extraction of one solicitation document.
type Payload struct {
	Summary                string     `json:"summary,omitempty"`
	ScopeOfWork            string     `json:"scope_of_work,omitempty"`
	SubmissionInstructions string     `json:"submission_instructions,omitempty"`
	RequiredDocuments      []string   `json:"required_documents,omitempty"`
	RequiredForms          []string   `json:"required_forms,omitempty"`
	ComplianceTerms        []string   `json:"compliance_terms,omitempty"`
	Deadlines              []Deadline `json:"deadlines,omitempty"`
	Contacts               []Contact  `json:"contacts,omitempty"`
}

// HasUsefulContent distinguishes a meaningful extraction from an empty or
// failed one: any non-empty text field, or any non-empty list, qualifies.
// Empty results are never cached so a later attempt can retry.
func (p Payload) HasUsefulContent() bool {
	if strings.TrimSpace(p.Summary) != "" ||
		strings.TrimSpace(p.ScopeOfWork) != "" ||
		strings.TrimSpace(p.SubmissionInstructions) != "" {
		return true
	}
	return len(p.RequiredDocuments) > 0 ||
		len(p.RequiredForms) > 0 ||
		len(p.ComplianceTerms) > 0 ||
		len(p.Deadlines) > 0 ||
		len(p.Contacts) > 0
}

// Result is the cached and returned envelope around one extraction.
type Result struct {
	Version   int64             `json:"version"`
	Discovery map[string]string `json:"discovery,omitempty"`
	Extracted Payload           `json:"extracted"`
}

func (r *Result) HasUsefulContent() bool {
	return r != nil && r.Extracted.HasUsefulContent()
}

// DecodePayload accepts the model's JSON either as a bare payload object or
// nested under an "extracted" key, which models produce interchangeably.
func DecodePayload(raw []byte) (Payload, error) {
	var probe struct {
		Extracted *Payload `json:"extracted"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Payload{}, fmt.Errorf("extraction result is not a JSON object: %w", err)
	}
	if probe.Extracted != nil {
		return *probe.Extracted, nil
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, fmt.Errorf("extraction result is not a JSON object: %w", err)
	}
	return payload, nil
}

// Fingerprint is the content-addressed cache key: identical text from
// different uploads or users lands on the same entry.
func Fingerprint(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	return fmt.Sprintf("%x", md5.Sum([]byte(normalized)))
}
