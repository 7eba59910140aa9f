package handler

import (
	"strings"

	"emrvault/internal/emr/models"
	"emrvault/internal/emr/service"
	dErrors "emrvault/pkg/domain-errors"
)

// FieldRequest is one field in a request body.
type FieldRequest struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	MediaType string `json:"media_type,omitempty"`
}

func toFields(in []FieldRequest) []service.Field {
	out := make([]service.Field, len(in))
	for i, f := range in {
		out[i] = service.Field{Name: strings.TrimSpace(f.Name), Value: f.Value, MediaType: strings.TrimSpace(f.MediaType)}
	}
	return out
}

// IssueRecordRequest is the body of POST /v1/records.
type IssueRecordRequest struct {
	Subject string         `json:"subject"`
	Issuer  string         `json:"issuer"`
	Lookup  string         `json:"lookup"`
	Fields  []FieldRequest `json:"fields"`

	parsed service.IssueRequest
}

func (r *IssueRecordRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Fields) == 0 {
		return dErrors.New(dErrors.CodeValidation, "fields must not be empty")
	}
	subject, err := models.ParseSubjectHex(strings.TrimSpace(r.Subject))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "subject must be 64 hex characters")
	}
	issuer, err := models.ParseIssuerID(strings.TrimSpace(r.Issuer))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "issuer must be a uuid")
	}
	lookup, err := models.ParseHashedHex(strings.TrimSpace(r.Lookup))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "lookup must be 64 hex characters")
	}
	r.parsed = service.IssueRequest{Subject: subject, Issuer: issuer, Lookup: lookup, Fields: toFields(r.Fields)}
	return nil
}

// UpdateRecordRequest is the body of PATCH /v1/records/{subject}/{issuer}/{record}.
type UpdateRecordRequest struct {
	Fields []FieldRequest `json:"fields"`
}

func (r *UpdateRecordRequest) Validate() error {
	if r == nil || len(r.Fields) == 0 {
		return dErrors.New(dErrors.CodeValidation, "fields must not be empty")
	}
	return nil
}

// LookupRequest carries the blind index key for remove and revoke.
type LookupRequest struct {
	Lookup string `json:"lookup"`

	parsed models.HashedID
}

func (r *LookupRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	lookup, err := models.ParseHashedHex(strings.TrimSpace(r.Lookup))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "lookup must be 64 hex characters")
	}
	r.parsed = lookup
	return nil
}

func parseRef(subject, issuer, record string) (service.RecordRef, error) {
	var ref service.RecordRef
	var err error
	if ref.Subject, err = models.ParseSubjectHex(subject); err != nil {
		return ref, dErrors.Wrap(err, dErrors.CodeBadRequest, "subject must be 64 hex characters")
	}
	if ref.Issuer, err = models.ParseIssuerID(issuer); err != nil {
		return ref, dErrors.Wrap(err, dErrors.CodeBadRequest, "issuer must be a uuid")
	}
	if ref.Record, err = models.ParseRecordID(record); err != nil {
		return ref, dErrors.Wrap(err, dErrors.CodeBadRequest, "record must be a uuid")
	}
	return ref, nil
}
