package service

import (
	"fmt"
	"unicode/utf8"

	"emrvault/internal/emr/models"
	dErrors "emrvault/pkg/domain-errors"
)

// Field is one named fragment of an EMR as callers see it.
type Field struct {
	Name      string
	Value     string
	MediaType string
}

type IssueRequest struct {
	Subject models.SubjectID
	Issuer  models.IssuerID
	// Lookup is the caller-hashed identifier the record is findable by.
	Lookup models.HashedID
	Fields []Field
}

type IssueResult struct {
	Record models.RecordID
	Fields int
	Offset uint64
}

type UpdateRequest struct {
	Subject models.SubjectID
	Issuer  models.IssuerID
	Record  models.RecordID
	Fields  []Field
}

type UpdateResult struct {
	Updated int
	Offset  uint64
}

// RecordRef addresses one EMR.
type RecordRef struct {
	Subject models.SubjectID
	Issuer  models.IssuerID
	Record  models.RecordID
}

// Record is an EMR with its fields in key order.
type Record struct {
	RecordRef
	Fields []Field
	Offset uint64
}

type RemoveResult struct {
	Removed int
	Offset  uint64
}

func fieldFromFragment(key models.FieldKey, v models.FragmentValue) Field {
	f := Field{Name: key.String(), Value: v.Content()}
	if v2, ok := v.(models.FragmentV002); ok {
		f.MediaType = v2.MediaType
	}
	return f
}

// fragments validates fields and keys them under ref, rejecting repeats.
func fragments(ref RecordRef, fields []Field) ([]models.CompositeKey, []models.FragmentValue, error) {
	if len(fields) == 0 {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "at least one field is required")
	}
	keys := make([]models.CompositeKey, len(fields))
	values := make([]models.FragmentValue, len(fields))
	seen := make(map[models.FieldKey]struct{}, len(fields))
	for i, f := range fields {
		fk, err := models.NewFieldKey(f.Name)
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("invalid field name %q", f.Name))
		}
		if _, dup := seen[fk]; dup {
			return nil, nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field %q given twice", f.Name))
		}
		seen[fk] = struct{}{}
		if len(f.Value) > models.MaxFragmentValue {
			return nil, nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field %q exceeds %d bytes", f.Name, models.MaxFragmentValue))
		}
		if len(f.MediaType) > models.MaxMediaType {
			return nil, nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field %q media type exceeds %d bytes", f.Name, models.MaxMediaType))
		}
		if !utf8.ValidString(f.Value) || !utf8.ValidString(f.MediaType) {
			return nil, nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field %q is not valid UTF-8", f.Name))
		}
		keys[i] = models.CompositeKey{Subject: ref.Subject, Issuer: ref.Issuer, Record: ref.Record, Field: fk}
		values[i] = models.NewFragment(f.Value, f.MediaType)
	}
	return keys, values, nil
}
