package registry_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"emrvault/internal/emr/models"
	"emrvault/internal/emr/registry"
	"emrvault/internal/storage/codec"
	"emrvault/internal/storage/memory"
	"emrvault/pkg/platform/sentinel"
)

type RegistrySuite struct {
	suite.Suite
	mem *memory.VecMemory
	reg *registry.Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.mem = memory.NewVecMemory()
	reg, err := registry.Open(s.mem)
	s.Require().NoError(err)
	s.reg = reg
}

func (s *RegistrySuite) key(subject, issuer, record byte, field string) models.CompositeKey {
	f, err := models.NewFieldKey(field)
	s.Require().NoError(err)
	return models.CompositeKey{
		Subject: models.SubjectID{subject},
		Issuer:  models.IssuerID{issuer},
		Record:  models.RecordID{record},
		Field:   f,
	}
}

func (s *RegistrySuite) snapshot() []byte {
	buf := make([]byte, s.mem.Size()*memory.PageSize)
	s.Require().NoError(s.mem.Read(0, buf))
	return buf
}

func (s *RegistrySuite) TestAddThenGet() {
	s.Run("round trips a value near the maximum", func() {
		k := s.key(1, 1, 1, "notes")
		v := models.NewFragment(strings.Repeat("n", models.MaxFragmentValue), "text/plain")
		s.Require().NoError(s.reg.Add(k, v))

		got, err := s.reg.Get(k)
		s.Require().NoError(err)
		s.Equal(v, got)
	})

	s.Run("add overwrites without checking", func() {
		k := s.key(1, 1, 1, "notes")
		s.Require().NoError(s.reg.Add(k, models.NewFragment("second", "")))
		got, err := s.reg.Get(k)
		s.Require().NoError(err)
		s.Equal("second", got.Content())
		s.Equal(1, s.reg.Len())
	})

	s.Run("missing key is not found", func() {
		_, err := s.reg.Get(s.key(9, 9, 9, "x"))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("oversized value is rejected", func() {
		err := s.reg.Add(s.key(2, 1, 1, "notes"), models.NewFragment(strings.Repeat("n", models.MaxFragmentValue+1), ""))
		s.ErrorIs(err, codec.ErrTooLarge)
	})
}

func (s *RegistrySuite) TestInvalidUTF8IsRejectedAndScansStayReadable() {
	good := s.key(1, 1, 1, "a")
	s.Require().NoError(s.reg.Add(good, models.NewFragment("fine", "text/plain")))
	before := s.snapshot()

	for name, v := range map[string]models.FragmentValue{
		"value":      models.NewFragment("ok\xff\xfe", "text/plain"),
		"media type": models.NewFragment("ok", "text/\xc0"),
		"v001 value": models.FragmentV001{Value: "\xed\xa0\x80"},
	} {
		s.Run(name, func() {
			err := s.reg.Add(s.key(1, 1, 1, "b"), v)
			s.ErrorIs(err, codec.ErrInvalidText)
		})
	}
	s.Equal(before, s.snapshot())

	entries, err := s.reg.ReadRecord(models.SubjectID{1}, models.IssuerID{1}, models.RecordID{1})
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("fine", entries[0].Value.Content())
}

func (s *RegistrySuite) TestUpdateAbsentLeavesStateUnchanged() {
	s.Require().NoError(s.reg.Add(s.key(1, 1, 1, "a"), models.NewFragment("a", "")))
	before := s.snapshot()

	err := s.reg.Update(s.key(1, 1, 2, "a"), models.NewFragment("b", ""))
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Equal(before, s.snapshot())
	s.Equal(1, s.reg.Len())
}

func (s *RegistrySuite) TestUpdateExisting() {
	k := s.key(1, 1, 1, "a")
	s.Require().NoError(s.reg.Add(k, models.NewFragment("old", "")))
	s.Require().NoError(s.reg.Update(k, models.FragmentV001{Value: "new"}))

	got, err := s.reg.Get(k)
	s.Require().NoError(err)
	s.Equal(models.FragmentV001{Value: "new"}, got)
}

func (s *RegistrySuite) TestUpdateBatchKeepsPartialProgress() {
	first, second := s.key(1, 1, 1, "a"), s.key(1, 1, 1, "b")
	s.Require().NoError(s.reg.Add(first, models.NewFragment("v1", "")))

	err := s.reg.UpdateBatch([]registry.Entry{
		{Key: first, Value: models.NewFragment("v2", "")},
		{Key: second, Value: models.NewFragment("v2", "")},
	})
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrNotFound)

	var batchErr *registry.BatchError
	s.Require().ErrorAs(err, &batchErr)
	s.Equal(1, batchErr.Index)
	s.Equal(1, batchErr.Applied)
	s.Equal(second, batchErr.Key)

	got, err := s.reg.Get(first)
	s.Require().NoError(err)
	s.Equal("v2", got.Content())
	_, err = s.reg.Get(second)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RegistrySuite) TestAddBatchIsAllOrNothing() {
	existing := s.key(1, 1, 1, "b")
	s.Require().NoError(s.reg.Add(existing, models.NewFragment("keep", "")))

	s.Run("conflict aborts before writing", func() {
		before := s.snapshot()
		err := s.reg.AddBatch([]registry.Entry{
			{Key: s.key(1, 1, 1, "a"), Value: models.NewFragment("new", "")},
			{Key: existing, Value: models.NewFragment("clobber", "")},
		})
		s.ErrorIs(err, sentinel.ErrConflict)
		s.Equal(before, s.snapshot())
		_, err = s.reg.Get(s.key(1, 1, 1, "a"))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("repeated key in batch conflicts", func() {
		k := s.key(2, 1, 1, "a")
		err := s.reg.AddBatch([]registry.Entry{
			{Key: k, Value: models.NewFragment("x", "")},
			{Key: k, Value: models.NewFragment("y", "")},
		})
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("oversized entry aborts before writing", func() {
		err := s.reg.AddBatch([]registry.Entry{
			{Key: s.key(3, 1, 1, "a"), Value: models.NewFragment("ok", "")},
			{Key: s.key(3, 1, 1, "b"), Value: models.NewFragment("ok", strings.Repeat("m", 65))},
		})
		s.ErrorIs(err, codec.ErrTooLarge)
		s.Equal(1, s.reg.Len())
	})

	s.Run("clean batch commits every entry", func() {
		s.Require().NoError(s.reg.AddBatch([]registry.Entry{
			{Key: s.key(4, 1, 1, "a"), Value: models.NewFragment("1", "")},
			{Key: s.key(4, 1, 1, "b"), Value: models.NewFragment("2", "")},
		}))
		s.Equal(3, s.reg.Len())
	})
}

func (s *RegistrySuite) TestAddBatchRollsBackOnWriteFailure() {
	mem := &memory.VecMemory{MaxPages: 1}
	reg, err := registry.Open(mem)
	s.Require().NoError(err)

	// Each slot holds a full fragment, so only a handful fit in one page.
	var batch []registry.Entry
	for i := range 16 {
		batch = append(batch, registry.Entry{Key: s.key(1, 1, byte(i), "a"), Value: models.NewFragment("v", "")})
	}
	err = reg.AddBatch(batch)
	s.ErrorIs(err, sentinel.ErrOutOfMemory)
	s.Equal(0, reg.Len())
}

func (s *RegistrySuite) TestRemove() {
	k := s.key(1, 1, 1, "a")
	s.Require().NoError(s.reg.Add(k, models.NewFragment("a", "")))

	removed, err := s.reg.Remove(k)
	s.Require().NoError(err)
	s.True(removed)

	removed, err = s.reg.Remove(k)
	s.Require().NoError(err)
	s.False(removed)
	s.Equal(1, s.reg.Stats().FreeSlots)
}

func (s *RegistrySuite) TestPrefixScans() {
	for _, k := range []models.CompositeKey{
		s.key(1, 1, 1, "a"), s.key(1, 1, 1, "b"),
		s.key(1, 1, 2, "a"),
		s.key(1, 2, 1, "a"),
		s.key(2, 1, 1, "a"),
	} {
		s.Require().NoError(s.reg.Add(k, models.NewFragment(k.Field.String(), "")))
	}

	count := func(scan func(func(registry.Entry) bool) error) int {
		n := 0
		s.Require().NoError(scan(func(registry.Entry) bool { n++; return true }))
		return n
	}
	subject, issuer := models.SubjectID{1}, models.IssuerID{1}

	s.Equal(4, count(func(fn func(registry.Entry) bool) error { return s.reg.ScanSubject(subject, fn) }))
	s.Equal(3, count(func(fn func(registry.Entry) bool) error { return s.reg.ScanIssuer(subject, issuer, fn) }))
	s.Equal(2, count(func(fn func(registry.Entry) bool) error {
		return s.reg.ScanRecord(subject, issuer, models.RecordID{1}, fn)
	}))

	fields, err := s.reg.ReadRecord(subject, issuer, models.RecordID{1})
	s.Require().NoError(err)
	s.Require().Len(fields, 2)
	s.Equal("a", fields[0].Key.Field.String())
	s.Equal("b", fields[1].Key.Field.String())

	n, err := s.reg.RemoveRecord(subject, issuer, models.RecordID{1})
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(3, s.reg.Len())
}

func (s *RegistrySuite) TestReopen() {
	k := s.key(1, 1, 1, "a")
	s.Require().NoError(s.reg.Add(k, models.NewFragment("persisted", "")))

	reopened, err := registry.Open(s.mem)
	s.Require().NoError(err)
	got, err := reopened.Get(k)
	s.Require().NoError(err)
	s.Equal("persisted", got.Content())
}
