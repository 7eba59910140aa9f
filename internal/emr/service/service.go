// Package service runs EMR operations against the stable stores. Each
// operation is one borrow of the process state: registry, blind index and
// activity log change together or not at all, and the activity mirror is
// fed only after the borrow has been released.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"emrvault/internal/activity"
	"emrvault/internal/emr/models"
	"emrvault/internal/emr/registry"
	"emrvault/internal/idgen"
	"emrvault/internal/platform/metrics"
	"emrvault/internal/state"
	"emrvault/internal/storage/codec"
	dErrors "emrvault/pkg/domain-errors"
	audit "emrvault/pkg/platform/audit"
	"emrvault/pkg/platform/sentinel"
	"emrvault/pkg/requestcontext"
)

// IDGenerator issues record identifiers.
type IDGenerator interface {
	Generate() (idgen.ID, error)
}

// Store is the borrow over the process state.
type Store interface {
	With(fn func(*state.Stores) error) error
}

type Service struct {
	store   Store
	ids     IDGenerator
	emitter audit.Emitter
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditEmitter mirrors every committed activity entry to e.
func WithAuditEmitter(e audit.Emitter) Option {
	return func(s *Service) {
		s.emitter = e
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(store Store, ids IDGenerator, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ids:    ids,
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("emrvault/internal/emr/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueRecord stores a new EMR under a fresh record id, makes it findable
// by req.Lookup and logs the issue.
func (s *Service) IssueRecord(ctx context.Context, req IssueRequest) (result *IssueResult, err error) {
	ctx, done := s.begin(ctx, "issue_record")
	defer func() { done(err) }()

	id, err := s.ids.Generate()
	if err != nil {
		return nil, translate(err, "generate record id")
	}
	ref := RecordRef{Subject: req.Subject, Issuer: req.Issuer, Record: models.RecordID(id)}
	keys, values, err := fragments(ref, req.Fields)
	if err != nil {
		return nil, err
	}
	batch := make([]registry.Entry, len(keys))
	for i := range keys {
		batch[i] = registry.Entry{Key: keys[i], Value: values[i]}
	}
	at := requestcontext.Now(ctx).UTC()

	var offset uint64
	err = s.store.With(func(st *state.Stores) error {
		if err := st.Registry.AddBatch(batch); err != nil {
			return err
		}
		if err := st.Index.Bind(req.Lookup, ref.Record); err != nil {
			return errors.Join(err, s.undoIssue(st, ref, req.Lookup, false))
		}
		n, err := st.Activity.Append(entry(activity.KindIssued, ref, at))
		if err != nil {
			return errors.Join(err, s.undoIssue(st, ref, req.Lookup, true))
		}
		offset = n
		return nil
	})
	if err != nil {
		return nil, translate(err, "issue record")
	}

	s.mirror(ctx, audit.ActionRecordIssued, offset, ref, at)
	s.logger.InfoContext(ctx, "record issued",
		"request_id", requestcontext.RequestID(ctx),
		"record_id", ref.Record.String(),
		"fields", len(batch),
		"offset", offset,
	)
	return &IssueResult{Record: ref.Record, Fields: len(batch), Offset: offset}, nil
}

func (s *Service) undoIssue(st *state.Stores, ref RecordRef, lookup models.HashedID, bound bool) error {
	var errs []error
	if bound {
		if _, err := st.Index.Unbind(lookup, ref.Record); err != nil {
			errs = append(errs, fmt.Errorf("compensate bind: %w", err))
		}
	}
	if _, err := st.Registry.RemoveRecord(ref.Subject, ref.Issuer, ref.Record); err != nil {
		errs = append(errs, fmt.Errorf("compensate add: %w", err))
	}
	return errors.Join(errs...)
}

// current returns the stored entries for the leading keys of batch that
// exist, stopping at the first absent one as UpdateBatch does.
func current(st *state.Stores, batch []registry.Entry) ([]registry.Entry, error) {
	out := make([]registry.Entry, 0, len(batch))
	for _, e := range batch {
		v, err := st.Registry.Get(e.Key)
		if errors.Is(err, sentinel.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, registry.Entry{Key: e.Key, Value: v})
	}
	return out, nil
}

// restore writes entries back after a later step of the same borrow failed.
func restore(st *state.Stores, entries []registry.Entry) error {
	var errs []error
	for _, e := range entries {
		if err := st.Registry.Add(e.Key, e.Value); err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", e.Key, err))
		}
	}
	return errors.Join(errs...)
}

// UpdateRecord overwrites existing fields of an EMR in request order. It
// never creates a field. If a field fails part way, the fields before it
// stay updated and are still logged; the error carries the failing field.
// If the log entry cannot be written the applied fields are put back.
func (s *Service) UpdateRecord(ctx context.Context, req UpdateRequest) (result *UpdateResult, err error) {
	ctx, done := s.begin(ctx, "update_record")
	defer func() { done(err) }()

	ref := RecordRef{Subject: req.Subject, Issuer: req.Issuer, Record: req.Record}
	keys, values, err := fragments(ref, req.Fields)
	if err != nil {
		return nil, err
	}
	batch := make([]registry.Entry, len(keys))
	for i := range keys {
		batch[i] = registry.Entry{Key: keys[i], Value: values[i]}
	}
	at := requestcontext.Now(ctx).UTC()

	result = &UpdateResult{}
	var updateErr error
	err = s.store.With(func(st *state.Stores) error {
		previous, err := current(st, batch)
		if err != nil {
			return err
		}
		updateErr = st.Registry.UpdateBatch(batch)
		applied := len(batch)
		var be *registry.BatchError
		if errors.As(updateErr, &be) {
			applied = be.Applied
		}
		if applied == 0 {
			return nil
		}
		offset, err := st.Activity.Append(entry(activity.KindUpdated, ref, at))
		if err != nil {
			return errors.Join(err, restore(st, previous[:applied]))
		}
		result.Updated = applied
		result.Offset = offset
		return nil
	})
	if err != nil {
		return nil, translate(err, "log record update")
	}
	if result.Updated > 0 {
		s.mirror(ctx, audit.ActionRecordUpdated, result.Offset, ref, at)
	}
	if updateErr != nil {
		return result, translate(updateErr, "update record")
	}
	return result, nil
}

// ReadRecord returns every field of an EMR and logs the access.
func (s *Service) ReadRecord(ctx context.Context, ref RecordRef) (result *Record, err error) {
	ctx, done := s.begin(ctx, "read_record")
	defer func() { done(err) }()

	at := requestcontext.Now(ctx).UTC()
	result = &Record{RecordRef: ref}
	err = s.store.With(func(st *state.Stores) error {
		entries, err := st.Registry.ReadRecord(ref.Subject, ref.Issuer, ref.Record)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("record %s: %w", ref.Record, sentinel.ErrNotFound)
		}
		for _, e := range entries {
			result.Fields = append(result.Fields, fieldFromFragment(e.Key.Field, e.Value))
		}
		result.Offset, err = st.Activity.Append(entry(activity.KindAccessed, ref, at))
		return err
	})
	if err != nil {
		return nil, translate(err, "read record")
	}
	s.mirror(ctx, audit.ActionRecordAccessed, result.Offset, ref, at)
	return result, nil
}

// ListRecords returns the records bound to lookup. No match is an empty
// slice, never an error.
func (s *Service) ListRecords(ctx context.Context, lookup models.HashedID) (ids []models.RecordID, err error) {
	ctx, done := s.begin(ctx, "list_records")
	defer func() { done(err) }()

	err = s.store.With(func(st *state.Stores) error {
		ids, err = st.Index.Lookup(lookup)
		return err
	})
	if err != nil {
		return nil, translate(err, "lookup records")
	}
	return ids, nil
}

// RemoveRecord deletes every field of an EMR, unbinds it from lookup and
// logs the removal. The activity log keeps its history.
func (s *Service) RemoveRecord(ctx context.Context, ref RecordRef, lookup models.HashedID) (result *RemoveResult, err error) {
	ctx, done := s.begin(ctx, "remove_record")
	defer func() { done(err) }()

	at := requestcontext.Now(ctx).UTC()
	result = &RemoveResult{}
	err = s.store.With(func(st *state.Stores) error {
		fields, err := st.Registry.ReadRecord(ref.Subject, ref.Issuer, ref.Record)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return fmt.Errorf("record %s: %w", ref.Record, sentinel.ErrNotFound)
		}
		if _, err := st.Registry.RemoveRecord(ref.Subject, ref.Issuer, ref.Record); err != nil {
			return errors.Join(err, restore(st, fields))
		}
		unbound, err := st.Index.Unbind(lookup, ref.Record)
		if err != nil {
			return errors.Join(err, restore(st, fields))
		}
		offset, err := st.Activity.Append(entry(activity.KindRemoved, ref, at))
		if err != nil {
			if unbound {
				if bindErr := st.Index.Bind(lookup, ref.Record); bindErr != nil {
					err = errors.Join(err, fmt.Errorf("compensate unbind: %w", bindErr))
				}
			}
			return errors.Join(err, restore(st, fields))
		}
		result.Removed = len(fields)
		result.Offset = offset
		return nil
	})
	if err != nil {
		return nil, translate(err, "remove record")
	}
	s.mirror(ctx, audit.ActionRecordRemoved, result.Offset, ref, at)
	return result, nil
}

// RevokeAccess unbinds a record from lookup without touching its fields.
func (s *Service) RevokeAccess(ctx context.Context, ref RecordRef, lookup models.HashedID) (offset uint64, err error) {
	ctx, done := s.begin(ctx, "revoke_access")
	defer func() { done(err) }()

	at := requestcontext.Now(ctx).UTC()
	err = s.store.With(func(st *state.Stores) error {
		removed, err := st.Index.Unbind(lookup, ref.Record)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("binding for %s: %w", ref.Record, sentinel.ErrNotFound)
		}
		offset, err = st.Activity.Append(entry(activity.KindAccessRevoked, ref, at))
		return err
	})
	if err != nil {
		return 0, translate(err, "revoke access")
	}
	s.mirror(ctx, audit.ActionAccessRevoked, offset, ref, at)
	return offset, nil
}

// Activity resolves log offsets in input order; unassigned offsets are nil.
func (s *Service) Activity(ctx context.Context, offsets []uint64) (entries []*activity.Entry, err error) {
	ctx, done := s.begin(ctx, "activity")
	defer func() { done(err) }()

	err = s.store.With(func(st *state.Stores) error {
		entries, err = st.Activity.GetBatch(offsets)
		return err
	})
	if err != nil {
		return nil, translate(err, "read activity")
	}
	return entries, nil
}

// ActivityLen is the next offset the log will assign.
func (s *Service) ActivityLen() (n uint64) {
	_ = s.store.With(func(st *state.Stores) error {
		n = st.Activity.Len()
		return nil
	})
	return n
}

func entry(kind activity.Kind, ref RecordRef, at time.Time) activity.Entry {
	return activity.Entry{Kind: kind, Subject: ref.Subject, Issuer: ref.Issuer, Record: ref.Record, At: at}
}

func (s *Service) mirror(ctx context.Context, action audit.Action, offset uint64, ref RecordRef, at time.Time) {
	if s.emitter == nil {
		return
	}
	e := audit.NewEvent(action, offset, ref.Subject.String(), ref.Issuer.String(), ref.Record.String(), at)
	e.RequestID = requestcontext.RequestID(ctx)
	s.emitter.Emit(ctx, e)
}

// begin opens a span and returns the function that closes it, recording the
// outcome in metrics and logs.
func (s *Service) begin(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "emr."+op, trace.WithAttributes(
		attribute.String("request_id", requestcontext.RequestID(ctx)),
	))
	return ctx, func(err error) {
		if s.metrics != nil {
			s.metrics.ObserveOperation(op, start)
		}
		if err != nil {
			code := dErrors.CodeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(code))
			if s.metrics != nil {
				s.metrics.IncrementOperationError(op, string(code))
			}
			level := slog.LevelWarn
			if code == dErrors.CodeInternal || code == dErrors.CodeDecode {
				level = slog.LevelError
			}
			s.logger.Log(ctx, level, "emr operation failed",
				"operation", op,
				"request_id", requestcontext.RequestID(ctx),
				"code", code,
				"error", err,
			)
		}
		span.End()
	}
}

// translate maps storage facts onto domain error codes.
func translate(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg+": not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg+": already exists")
	case errors.Is(err, sentinel.ErrOutOfMemory):
		return dErrors.Wrap(err, dErrors.CodeOutOfMemory, msg+": storage exhausted")
	case errors.Is(err, codec.ErrTooLarge), errors.Is(err, codec.ErrInvalidText):
		return dErrors.Wrap(err, dErrors.CodeValidation, msg+": value rejected")
	case errors.Is(err, sentinel.ErrInvalidKeyFormat):
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, msg+": invalid key")
	case errors.Is(err, sentinel.ErrDecode):
		return dErrors.Wrap(err, dErrors.CodeDecode, msg+": stored data unreadable")
	case errors.Is(err, sentinel.ErrNotSeeded), errors.Is(err, sentinel.ErrRandomnessUnavailable):
		return dErrors.Wrap(err, dErrors.CodeRandomnessUnavailable, msg+": randomness unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
