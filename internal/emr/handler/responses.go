package handler

import (
	"time"

	"emrvault/internal/activity"
	"emrvault/internal/emr/models"
	"emrvault/internal/emr/service"
)

type FieldResponse struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	MediaType string `json:"media_type,omitempty"`
}

type IssueRecordResponse struct {
	RecordID string `json:"record_id"`
	Fields   int    `json:"fields"`
	Offset   uint64 `json:"activity_offset"`
}

type RecordResponse struct {
	Subject  string          `json:"subject"`
	Issuer   string          `json:"issuer"`
	RecordID string          `json:"record_id"`
	Fields   []FieldResponse `json:"fields"`
	Offset   uint64          `json:"activity_offset"`
}

type UpdateRecordResponse struct {
	Updated int    `json:"updated"`
	Offset  uint64 `json:"activity_offset"`
}

type RemoveRecordResponse struct {
	Removed int    `json:"removed"`
	Offset  uint64 `json:"activity_offset"`
}

type RevokeResponse struct {
	Offset uint64 `json:"activity_offset"`
}

type LookupResponse struct {
	RecordIDs []string `json:"record_ids"`
}

type ActivityEntryResponse struct {
	Offset   uint64    `json:"offset"`
	Action   string    `json:"action"`
	Subject  string    `json:"subject"`
	Issuer   string    `json:"issuer"`
	RecordID string    `json:"record_id"`
	At       time.Time `json:"at"`
}

// ActivityResponse keeps the request order; unassigned offsets are null.
type ActivityResponse struct {
	Entries []*ActivityEntryResponse `json:"entries"`
	Length  uint64                   `json:"length"`
}

func fromRecord(r *service.Record) *RecordResponse {
	fields := make([]FieldResponse, len(r.Fields))
	for i, f := range r.Fields {
		fields[i] = FieldResponse(f)
	}
	return &RecordResponse{
		Subject:  r.Subject.String(),
		Issuer:   r.Issuer.String(),
		RecordID: r.Record.String(),
		Fields:   fields,
		Offset:   r.Offset,
	}
}

func fromRecordIDs(ids []models.RecordID) *LookupResponse {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return &LookupResponse{RecordIDs: out}
}

func fromActivity(offsets []uint64, entries []*activity.Entry, length uint64) *ActivityResponse {
	out := make([]*ActivityEntryResponse, len(entries))
	for i, e := range entries {
		if e == nil {
			continue
		}
		out[i] = &ActivityEntryResponse{
			Offset:   offsets[i],
			Action:   e.Kind.Action(),
			Subject:  e.Subject.String(),
			Issuer:   e.Issuer.String(),
			RecordID: e.Record.String(),
			At:       e.At,
		}
	}
	return &ActivityResponse{Entries: out, Length: length}
}
