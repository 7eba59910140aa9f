package service_test

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks IDGenerator,Store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"emrvault/internal/activity"
	"emrvault/internal/emr/blindindex"
	"emrvault/internal/emr/models"
	"emrvault/internal/emr/registry"
	"emrvault/internal/emr/service"
	"emrvault/internal/emr/service/mocks"
	"emrvault/internal/idgen"
	"emrvault/internal/state"
	"emrvault/internal/storage/memory"
	dErrors "emrvault/pkg/domain-errors"
	audit "emrvault/pkg/platform/audit"
	"emrvault/pkg/platform/sentinel"
	"emrvault/pkg/requestcontext"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (e *recordingEmitter) Emit(_ context.Context, event audit.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	ids     *mocks.MockIDGenerator
	emitter *recordingEmitter
	svc     *service.Service
	ctx     context.Context
	next    byte
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

var at = time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ids = mocks.NewMockIDGenerator(s.ctrl)
	s.emitter = &recordingEmitter{}
	s.next = 0

	st, err := state.Open(memory.NewVecMemory(), state.WithBucketPages(4))
	s.Require().NoError(err)
	s.svc = service.New(st, s.ids, service.WithAuditEmitter(s.emitter))
	s.ctx = requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), at), "req-1")
}

func (s *ServiceSuite) expectIDs() {
	s.ids.EXPECT().Generate().DoAndReturn(func() (idgen.ID, error) {
		s.next++
		var id idgen.ID
		id[0], id[15] = 0xEE, s.next
		return id, nil
	}).AnyTimes()
}

func subject(b byte) models.SubjectID { return models.SubjectID{b} }
func issuer(b byte) models.IssuerID   { return models.IssuerID{b} }
func lookup(b byte) models.HashedID   { return models.HashedID{b} }

func (s *ServiceSuite) issue(subj, iss, look byte, fields ...service.Field) *service.IssueResult {
	res, err := s.svc.IssueRecord(s.ctx, service.IssueRequest{
		Subject: subject(subj), Issuer: issuer(iss), Lookup: lookup(look), Fields: fields,
	})
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) TestIssueThenRead() {
	s.expectIDs()
	res := s.issue(1, 2, 3,
		service.Field{Name: "diagnosis", Value: "J45.909", MediaType: "text/icd-10"},
		service.Field{Name: "allergies", Value: "penicillin"},
	)
	s.Equal(2, res.Fields)
	s.Equal(uint64(0), res.Offset)

	rec, err := s.svc.ReadRecord(s.ctx, service.RecordRef{Subject: subject(1), Issuer: issuer(2), Record: res.Record})
	s.Require().NoError(err)
	s.Require().Len(rec.Fields, 2)
	s.Equal("allergies", rec.Fields[0].Name)
	s.Equal("diagnosis", rec.Fields[1].Name)
	s.Equal("text/icd-10", rec.Fields[1].MediaType)
	s.Equal(uint64(1), rec.Offset)

	s.Require().Len(s.emitter.events, 2)
	s.Equal(audit.ActionRecordIssued, s.emitter.events[0].Action)
	s.Equal(audit.CategoryOperations, s.emitter.events[1].Category)
	s.Equal("req-1", s.emitter.events[1].RequestID)
	s.Equal(at, s.emitter.events[0].Timestamp)
}

func (s *ServiceSuite) TestIssueValidation() {
	s.expectIDs()
	tests := map[string][]service.Field{
		"no fields":       nil,
		"bad field name":  {{Name: "Diagnosis", Value: "x"}},
		"empty name":      {{Name: "", Value: "x"}},
		"repeated field":  {{Name: "a", Value: "x"}, {Name: "a", Value: "y"}},
		"value too large": {{Name: "note", Value: strings.Repeat("x", models.MaxFragmentValue+1)}},
		"media too long":  {{Name: "note", Value: "x", MediaType: strings.Repeat("m", models.MaxMediaType+1)}},
		"invalid utf-8":   {{Name: "note", Value: "ok\xff\xfe"}},
		"invalid media":   {{Name: "note", Value: "x", MediaType: "text/\xc0"}},
	}
	for name, fields := range tests {
		s.Run(name, func() {
			_, err := s.svc.IssueRecord(s.ctx, service.IssueRequest{Subject: subject(1), Fields: fields})
			s.Require().Error(err)
			code := dErrors.CodeOf(err)
			s.True(code == dErrors.CodeValidation || code == dErrors.CodeInvalidInput, "got %s", code)
		})
	}
	s.Zero(s.svc.ActivityLen())
	s.Empty(s.emitter.events)
}

func (s *ServiceSuite) TestIssueWithoutSeedIsUnavailable() {
	s.ids.EXPECT().Generate().Return(idgen.ID{}, sentinel.ErrNotSeeded)
	_, err := s.svc.IssueRecord(s.ctx, service.IssueRequest{Fields: []service.Field{{Name: "a", Value: "b"}}})
	s.True(dErrors.HasCode(err, dErrors.CodeRandomnessUnavailable))
}

func (s *ServiceSuite) TestRepeatedRecordIDConflictsAndLeavesFirstIntact() {
	same := idgen.ID{0xAB}
	s.ids.EXPECT().Generate().Return(same, nil).Times(2)

	first := s.issue(1, 1, 9, service.Field{Name: "a", Value: "first"})
	_, err := s.svc.IssueRecord(s.ctx, service.IssueRequest{
		Subject: subject(1), Issuer: issuer(1), Lookup: lookup(8),
		Fields: []service.Field{{Name: "a", Value: "second"}},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	rec, err := s.svc.ReadRecord(s.ctx, service.RecordRef{Subject: subject(1), Issuer: issuer(1), Record: first.Record})
	s.Require().NoError(err)
	s.Equal("first", rec.Fields[0].Value)

	ids, err := s.svc.ListRecords(s.ctx, lookup(8))
	s.Require().NoError(err)
	s.Empty(ids)
}

func (s *ServiceSuite) TestListRecords() {
	s.expectIDs()
	a := s.issue(1, 1, 7, service.Field{Name: "a", Value: "1"})
	b := s.issue(2, 1, 7, service.Field{Name: "a", Value: "2"})
	s.issue(3, 1, 6, service.Field{Name: "a", Value: "3"})

	ids, err := s.svc.ListRecords(s.ctx, lookup(7))
	s.Require().NoError(err)
	s.ElementsMatch([]models.RecordID{a.Record, b.Record}, ids)

	ids, err = s.svc.ListRecords(s.ctx, lookup(0x55))
	s.Require().NoError(err)
	s.NotNil(ids)
	s.Empty(ids)
}

func (s *ServiceSuite) TestUpdateRecord() {
	s.expectIDs()
	res := s.issue(1, 1, 1,
		service.Field{Name: "a", Value: "old-a"},
		service.Field{Name: "b", Value: "old-b"},
	)
	ref := service.RecordRef{Subject: subject(1), Issuer: issuer(1), Record: res.Record}

	s.Run("overwrites existing fields", func() {
		out, err := s.svc.UpdateRecord(s.ctx, service.UpdateRequest{
			Subject: ref.Subject, Issuer: ref.Issuer, Record: ref.Record,
			Fields: []service.Field{{Name: "b", Value: "new-b"}},
		})
		s.Require().NoError(err)
		s.Equal(1, out.Updated)
	})

	s.Run("missing field creates nothing and logs nothing", func() {
		before := s.svc.ActivityLen()
		out, err := s.svc.UpdateRecord(s.ctx, service.UpdateRequest{
			Subject: ref.Subject, Issuer: ref.Issuer, Record: ref.Record,
			Fields: []service.Field{{Name: "zzz", Value: "x"}},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal(0, out.Updated)
		s.Equal(before, s.svc.ActivityLen())
	})

	s.Run("partial batch keeps applied prefix", func() {
		out, err := s.svc.UpdateRecord(s.ctx, service.UpdateRequest{
			Subject: ref.Subject, Issuer: ref.Issuer, Record: ref.Record,
			Fields: []service.Field{{Name: "a", Value: "new-a"}, {Name: "c", Value: "x"}},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		var be *registry.BatchError
		s.Require().True(errors.As(err, &be))
		s.Equal(1, be.Index)
		s.Equal(1, out.Updated)
	})

	rec, err := s.svc.ReadRecord(s.ctx, ref)
	s.Require().NoError(err)
	s.Require().Len(rec.Fields, 2)
	s.Equal("new-a", rec.Fields[0].Value)
	s.Equal("new-b", rec.Fields[1].Value)
}

func (s *ServiceSuite) TestUpdateRejectsInvalidUTF8() {
	s.expectIDs()
	res := s.issue(1, 1, 1, service.Field{Name: "a", Value: "kept"})
	ref := service.RecordRef{Subject: subject(1), Issuer: issuer(1), Record: res.Record}
	before := s.svc.ActivityLen()

	_, err := s.svc.UpdateRecord(s.ctx, service.UpdateRequest{
		Subject: ref.Subject, Issuer: ref.Issuer, Record: ref.Record,
		Fields: []service.Field{{Name: "a", Value: "\xed\xa0\x80"}},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "got %v", err)
	s.Equal(before, s.svc.ActivityLen())

	rec, err := s.svc.ReadRecord(s.ctx, ref)
	s.Require().NoError(err)
	s.Equal("kept", rec.Fields[0].Value)
}

func (s *ServiceSuite) TestRemoveRecord() {
	s.expectIDs()
	res := s.issue(1, 1, 4, service.Field{Name: "a", Value: "1"}, service.Field{Name: "b", Value: "2"})
	ref := service.RecordRef{Subject: subject(1), Issuer: issuer(1), Record: res.Record}

	out, err := s.svc.RemoveRecord(s.ctx, ref, lookup(4))
	s.Require().NoError(err)
	s.Equal(2, out.Removed)

	_, err = s.svc.ReadRecord(s.ctx, ref)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	ids, err := s.svc.ListRecords(s.ctx, lookup(4))
	s.Require().NoError(err)
	s.Empty(ids)

	_, err = s.svc.RemoveRecord(s.ctx, ref, lookup(4))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	entries, err := s.svc.Activity(s.ctx, []uint64{0, out.Offset})
	s.Require().NoError(err)
	s.Equal(activity.KindIssued, entries[0].Kind)
	s.Equal(activity.KindRemoved, entries[1].Kind)
}

func (s *ServiceSuite) TestRevokeAccess() {
	s.expectIDs()
	res := s.issue(1, 1, 5, service.Field{Name: "a", Value: "1"})
	ref := service.RecordRef{Subject: subject(1), Issuer: issuer(1), Record: res.Record}

	offset, err := s.svc.RevokeAccess(s.ctx, ref, lookup(5))
	s.Require().NoError(err)
	s.Equal(uint64(1), offset)

	_, err = s.svc.RevokeAccess(s.ctx, ref, lookup(5))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.svc.ReadRecord(s.ctx, ref)
	s.NoError(err, "revoking access keeps the fields")
	s.Equal(audit.CategorySecurity, s.emitter.events[1].Category)
}

func (s *ServiceSuite) TestActivityUnassignedOffsetsAreNil() {
	s.expectIDs()
	s.issue(1, 1, 1, service.Field{Name: "a", Value: "1"})

	entries, err := s.svc.Activity(s.ctx, []uint64{5, 0})
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Nil(entries[0])
	s.Equal(subject(1), entries[1].Subject)
	s.Equal(at, entries[1].At)
}

// failingMemory refuses writes once armed.
type failingMemory struct {
	memory.Memory
	armed bool
}

func (m *failingMemory) Write(offset uint64, src []byte) error {
	if m.armed {
		return sentinel.ErrOutOfMemory
	}
	return m.Memory.Write(offset, src)
}

// faultyStores backs each store with its own memory so one can be made to
// fail while the others keep working.
type faultyStores struct {
	*state.Stores
	index *failingMemory
	log   *failingMemory
}

func newFaultyService(t *testing.T, ids service.IDGenerator) (*service.Service, *faultyStores) {
	t.Helper()
	ctrl := gomock.NewController(t)

	reg, err := registry.Open(memory.NewVecMemory())
	if err != nil {
		t.Fatal(err)
	}
	idxMem := &failingMemory{Memory: memory.NewVecMemory()}
	idx, err := blindindex.Open(idxMem)
	if err != nil {
		t.Fatal(err)
	}
	logMem := &failingMemory{Memory: memory.NewVecMemory()}
	log, err := activity.Open(logMem)
	if err != nil {
		t.Fatal(err)
	}
	fs := &faultyStores{
		Stores: &state.Stores{Registry: reg, Index: idx, Activity: log},
		index:  idxMem,
		log:    logMem,
	}

	store := mocks.NewMockStore(ctrl)
	store.EXPECT().With(gomock.Any()).DoAndReturn(func(fn func(*state.Stores) error) error {
		return fn(fs.Stores)
	}).AnyTimes()
	return service.New(store, ids), fs
}

func fixedIDs(t *testing.T) service.IDGenerator {
	t.Helper()
	ids := mocks.NewMockIDGenerator(gomock.NewController(t))
	ids.EXPECT().Generate().Return(idgen.ID{1}, nil).AnyTimes()
	return ids
}

func issueTwoFields(t *testing.T, svc *service.Service) service.RecordRef {
	t.Helper()
	res, err := svc.IssueRecord(context.Background(), service.IssueRequest{
		Subject: subject(1), Issuer: issuer(1), Lookup: lookup(1),
		Fields: []service.Field{{Name: "a", Value: "old-a"}, {Name: "b", Value: "old-b"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return service.RecordRef{Subject: subject(1), Issuer: issuer(1), Record: res.Record}
}

func TestIssueCompensatesWhenActivityAppendFails(t *testing.T) {
	svc, fs := newFaultyService(t, fixedIDs(t))
	fs.log.armed = true

	_, err := svc.IssueRecord(context.Background(), service.IssueRequest{
		Lookup: lookup(1),
		Fields: []service.Field{{Name: "a", Value: "1"}},
	})
	if !dErrors.HasCode(err, dErrors.CodeOutOfMemory) {
		t.Fatalf("expected out_of_memory, got %v", err)
	}
	if fs.Registry.Len() != 0 || fs.Index.Len() != 0 {
		t.Fatalf("expected compensation, registry=%d index=%d", fs.Registry.Len(), fs.Index.Len())
	}
}

func TestRemoveRestoresStateOnFailure(t *testing.T) {
	tests := map[string]func(fs *faultyStores){
		"unbind fails":          func(fs *faultyStores) { fs.index.armed = true },
		"activity append fails": func(fs *faultyStores) { fs.log.armed = true },
	}
	for name, arm := range tests {
		t.Run(name, func(t *testing.T) {
			svc, fs := newFaultyService(t, fixedIDs(t))
			ref := issueTwoFields(t, svc)
			arm(fs)

			_, err := svc.RemoveRecord(context.Background(), ref, lookup(1))
			if !dErrors.HasCode(err, dErrors.CodeOutOfMemory) {
				t.Fatalf("expected out_of_memory, got %v", err)
			}
			if n := fs.Registry.Len(); n != 2 {
				t.Fatalf("expected both fields restored, registry=%d", n)
			}
			if bound, err := fs.Index.Contains(lookup(1), ref.Record); err != nil || !bound {
				t.Fatalf("expected lookup still bound, bound=%v err=%v", bound, err)
			}
			if n := fs.Activity.Len(); n != 1 {
				t.Fatalf("expected only the issue entry, log=%d", n)
			}

			fs.index.armed, fs.log.armed = false, false
			out, err := svc.RemoveRecord(context.Background(), ref, lookup(1))
			if err != nil {
				t.Fatal(err)
			}
			if out.Removed != 2 || fs.Registry.Len() != 0 || fs.Index.Len() != 0 {
				t.Fatalf("retry left removed=%d registry=%d index=%d", out.Removed, fs.Registry.Len(), fs.Index.Len())
			}
		})
	}
}

func TestUpdateRestoresFieldsWhenActivityAppendFails(t *testing.T) {
	svc, fs := newFaultyService(t, fixedIDs(t))
	ref := issueTwoFields(t, svc)
	fs.log.armed = true

	_, err := svc.UpdateRecord(context.Background(), service.UpdateRequest{
		Subject: ref.Subject, Issuer: ref.Issuer, Record: ref.Record,
		Fields: []service.Field{{Name: "a", Value: "new-a"}, {Name: "b", Value: "new-b"}},
	})
	if !dErrors.HasCode(err, dErrors.CodeOutOfMemory) {
		t.Fatalf("expected out_of_memory, got %v", err)
	}
	entries, err := fs.Registry.ReadRecord(ref.Subject, ref.Issuer, ref.Record)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Value.Content() != "old-a" || entries[1].Value.Content() != "old-b" {
		t.Fatalf("expected previous values, got %+v", entries)
	}
	if n := fs.Activity.Len(); n != 1 {
		t.Fatalf("expected only the issue entry, log=%d", n)
	}
}
