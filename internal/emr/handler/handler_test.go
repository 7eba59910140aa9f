package handler

import (
	"bytes"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emrvault/internal/emr/service"
	"emrvault/internal/idgen"
	"emrvault/internal/state"
	"emrvault/internal/storage/memory"
	"emrvault/pkg/testutil"
)

var (
	subjectHex = strings.Repeat("ab", 32)
	lookupHex  = strings.Repeat("cd", 32)
	issuerID   = uuid.MustParse("6f1c2b4e-9a0d-4c55-8f33-2a7b1d9e0c11").String()
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	st, err := state.Open(memory.NewVecMemory(), state.WithBucketPages(2))
	require.NoError(t, err)

	src := idgen.NewChaChaSource(idgen.SystemEntropy{})
	src.Seed([32]byte{7})
	svc := service.New(st, idgen.NewGenerator(src))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	r.Route("/v1", New(svc, logger).Register)
	return r
}

func issue(t *testing.T, router http.Handler) IssueRecordResponse {
	t.Helper()
	req := testutil.NewJSONRequest(t, http.MethodPost, "/v1/records", map[string]any{
		"subject": subjectHex,
		"issuer":  issuerID,
		"lookup":  lookupHex,
		"fields": []map[string]string{
			{"name": "diagnosis", "value": "J45.909", "media_type": "text/icd-10"},
			{"name": "allergies", "value": "penicillin"},
		},
	})
	rec := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rec, http.StatusCreated)
	return testutil.UnmarshalData[IssueRecordResponse](t, rec)
}

func TestIssueReadLookupFlow(t *testing.T) {
	router := newRouter(t)
	issued := issue(t, router)
	require.NotEmpty(t, issued.RecordID)
	assert.Equal(t, 2, issued.Fields)

	recordPath := "/v1/records/" + subjectHex + "/" + issuerID + "/" + issued.RecordID

	testutil.Given(t, "an issued record", func(t *testing.T) {
		testutil.When(t, "it is read", func(t *testing.T) {
			rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, recordPath))
			testutil.AssertStatusOK(t, rec)
			body := testutil.UnmarshalData[RecordResponse](t, rec)
			testutil.Then(t, "fields come back in key order", func(t *testing.T) {
				require.Len(t, body.Fields, 2)
				assert.Equal(t, "allergies", body.Fields[0].Name)
				assert.Equal(t, "text/icd-10", body.Fields[1].MediaType)
			})
		})

		testutil.When(t, "its lookup is queried", func(t *testing.T) {
			rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/lookups/"+lookupHex+"/records"))
			testutil.AssertStatusOK(t, rec)
			body := testutil.UnmarshalData[LookupResponse](t, rec)
			assert.Equal(t, []string{issued.RecordID}, body.RecordIDs)
		})
	})

	rec := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/activity?offsets=0,1,99"))
	testutil.AssertStatusOK(t, rec)
	act := testutil.UnmarshalData[ActivityResponse](t, rec)
	require.Len(t, act.Entries, 3)
	assert.Equal(t, "record_issued", act.Entries[0].Action)
	assert.Equal(t, "record_accessed", act.Entries[1].Action)
	assert.Nil(t, act.Entries[2])
	assert.Equal(t, uint64(2), act.Length)
}

func TestActivityUsesRequestTime(t *testing.T) {
	router := newRouter(t)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/v1/records", map[string]any{
		"subject": subjectHex,
		"issuer":  issuerID,
		"lookup":  lookupHex,
		"fields":  []map[string]string{{"name": "diagnosis", "value": "J45.909"}},
	})
	req = testutil.WithRequestTime(testutil.WithRequestID(req, "req-activity"), at)
	rec := testutil.DoRequest(router, req)
	testutil.AssertStatus(t, rec, http.StatusCreated)

	rec = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/activity?offsets=0"))
	testutil.AssertStatusOK(t, rec)
	act := testutil.UnmarshalData[ActivityResponse](t, rec)
	require.Len(t, act.Entries, 1)
	require.NotNil(t, act.Entries[0])
	assert.True(t, at.Equal(act.Entries[0].At), "got %s", act.Entries[0].At)
}

func TestUpdateAndRemove(t *testing.T) {
	router := newRouter(t)
	issued := issue(t, router)
	recordPath := "/v1/records/" + subjectHex + "/" + issuerID + "/" + issued.RecordID

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPatch, recordPath, map[string]any{
		"fields": []map[string]string{{"name": "allergies", "value": "none known"}},
	}))
	testutil.AssertStatusOK(t, rec)
	assert.Equal(t, 1, testutil.UnmarshalData[UpdateRecordResponse](t, rec).Updated)

	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPatch, recordPath, map[string]any{
		"fields": []map[string]string{{"name": "blood_type", "value": "O+"}},
	}))
	testutil.AssertStatusAndError(t, rec, http.StatusNotFound, "not_found")

	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodDelete, recordPath, map[string]string{"lookup": lookupHex}))
	testutil.AssertStatusOK(t, rec)
	assert.Equal(t, 2, testutil.UnmarshalData[RemoveRecordResponse](t, rec).Removed)

	rec = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, recordPath))
	testutil.AssertStatusAndError(t, rec, http.StatusNotFound, "not_found")
}

func TestRevoke(t *testing.T) {
	router := newRouter(t)
	issued := issue(t, router)
	revokePath := "/v1/records/" + subjectHex + "/" + issuerID + "/" + issued.RecordID + "/revoke"

	rec := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, revokePath, map[string]string{"lookup": lookupHex}))
	testutil.AssertStatusOK(t, rec)

	rec = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, revokePath, map[string]string{"lookup": lookupHex}))
	testutil.AssertStatusAndError(t, rec, http.StatusNotFound, "not_found")

	rec = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/lookups/"+lookupHex+"/records"))
	assert.Empty(t, testutil.UnmarshalData[LookupResponse](t, rec).RecordIDs)
}

func TestBadInput(t *testing.T) {
	router := newRouter(t)
	tests := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{
			name:   "short subject",
			req:    testutil.NewJSONRequest(t, http.MethodPost, "/v1/records", map[string]any{"subject": "ab", "issuer": issuerID, "lookup": lookupHex, "fields": []map[string]string{{"name": "a", "value": "b"}}}),
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "no fields",
			req:    testutil.NewJSONRequest(t, http.MethodPost, "/v1/records", map[string]any{"subject": subjectHex, "issuer": issuerID, "lookup": lookupHex}),
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "malformed json",
			req:    testutil.NewRequestWithBody(t, http.MethodPost, "/v1/records", `{"subject":`),
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
		{
			name:   "bad record id in path",
			req:    testutil.NewRequest(t, http.MethodGet, "/v1/records/"+subjectHex+"/"+issuerID+"/nope"),
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
		{
			name:   "bad lookup in path",
			req:    testutil.NewRequest(t, http.MethodGet, "/v1/lookups/"+hex.EncodeToString([]byte("short"))+"/records"),
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
		{
			name:   "bad offsets",
			req:    testutil.NewRequest(t, http.MethodGet, "/v1/activity?offsets=1,-2"),
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := testutil.DoRequest(router, tc.req)
			testutil.AssertStatusAndError(t, rec, tc.status, tc.code)
		})
	}
}

func TestParseOffsetsLimit(t *testing.T) {
	_, err := parseOffsets(strings.Repeat("1,", maxActivityBatch) + "1")
	assert.Error(t, err)

	got, err := parseOffsets("")
	require.NoError(t, err)
	assert.Empty(t, got)
}
