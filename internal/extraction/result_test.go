package extraction

import "testing"

func TestHasUsefulContent(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    bool
	}{
		{"empty", Payload{}, false},
		{"whitespace only", Payload{Summary: "   \n\t"}, false},
		{"summary", Payload{Summary: "road resurfacing RFP"}, true},
		{"scope of work", Payload{ScopeOfWork: "repave Main St"}, true},
		{"submission instructions", Payload{SubmissionInstructions: "submit via portal"}, true},
		{"required documents", Payload{RequiredDocuments: []string{"W-9"}}, true},
		{"required forms", Payload{RequiredForms: []string{"Form A"}}, true},
		{"compliance terms", Payload{ComplianceTerms: []string{"prevailing wage"}}, true},
		{"deadlines", Payload{Deadlines: []Deadline{{Label: "Q&A", Date: "2026-04-01"}}}, true},
		{"contacts", Payload{Contacts: []Contact{{Email: "buyer@city.gov"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.payload.HasUsefulContent(); got != tt.want {
				t.Errorf("HasUsefulContent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResultHasUsefulContentNilReceiver(t *testing.T) {
	var r *Result
	if r.HasUsefulContent() {
		t.Errorf("nil result reported useful content")
	}
}

func TestDecodePayloadDirect(t *testing.T) {
	payload, err := DecodePayload([]byte(`{"summary": "bridge repair", "required_forms": ["Form B"]}`))
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Summary != "bridge repair" || len(payload.RequiredForms) != 1 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestDecodePayloadNested(t *testing.T) {
	payload, err := DecodePayload([]byte(`{"extracted": {"summary": "bridge repair"}}`))
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Summary != "bridge repair" {
		t.Errorf("nested payload not unwrapped: %+v", payload)
	}
}

func TestDecodePayloadRejectsNonObject(t *testing.T) {
	if _, err := DecodePayload([]byte(`not json at all`)); err == nil {
		t.Errorf("expected error for non-JSON input")
	}
}

func TestFingerprintNormalizesWhitespace(t *testing.T) {
	a := Fingerprint("City of  Springfield\n\tRFP 2026-14")
	b := Fingerprint("City of Springfield RFP 2026-14")
	if a != b {
		t.Errorf("whitespace variants fingerprint differently: %s vs %s", a, b)
	}

	c := Fingerprint("City of Springfield RFP 2026-15")
	if a == c {
		t.Errorf("distinct documents share a fingerprint")
	}
}
