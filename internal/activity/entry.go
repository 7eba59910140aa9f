package activity

import (
	"encoding/binary"
	"fmt"
	"time"

	"emrvault/internal/emr/models"
	"emrvault/internal/storage/codec"
	"emrvault/pkg/platform/sentinel"
)

type Kind uint8

const (
	KindIssued Kind = iota + 1
	KindUpdated
	KindAccessed
	KindRemoved
	KindAccessRevoked
)

var kindActions = map[Kind]string{
	KindIssued:        "record_issued",
	KindUpdated:       "record_updated",
	KindAccessed:      "record_accessed",
	KindRemoved:       "record_removed",
	KindAccessRevoked: "access_revoked",
}

// Action is the name the kind is published under.
func (k Kind) Action() string {
	if a, ok := kindActions[k]; ok {
		return a
	}
	return fmt.Sprintf("kind_%d", uint8(k))
}

func (k Kind) String() string { return k.Action() }

func (k Kind) Valid() bool {
	_, ok := kindActions[k]
	return ok
}

// Entry is one domain event as the rest of the service sees it.
type Entry struct {
	Kind    Kind
	Subject models.SubjectID
	Issuer  models.IssuerID
	Record  models.RecordID
	At      time.Time
}

// StoredEntry is a persisted version of Entry.
type StoredEntry interface {
	Entry() Entry
}

// EntryV001 is laid out raw:
//
//	[0]     kind
//	[1:33]  subject
//	[33:49] issuer
//	[49:65] record
//	[65:73] unix nanos
type EntryV001 struct {
	Kind    Kind
	Subject models.SubjectID
	Issuer  models.IssuerID
	Record  models.RecordID
	AtNanos int64
}

func (e EntryV001) Entry() Entry {
	return Entry{
		Kind:    e.Kind,
		Subject: e.Subject,
		Issuer:  e.Issuer,
		Record:  e.Record,
		At:      time.Unix(0, e.AtNanos).UTC(),
	}
}

func current(e Entry) StoredEntry {
	return EntryV001{Kind: e.Kind, Subject: e.Subject, Issuer: e.Issuer, Record: e.Record, AtNanos: e.At.UnixNano()}
}

const entryV001Size = 1 + models.SubjectIDSize + models.IssuerIDSize + models.RecordIDSize + 8

var entryV001Codec = codec.FixedFunc(entryV001Size,
	func(dst []byte, e EntryV001) {
		dst[0] = byte(e.Kind)
		n := 1 + copy(dst[1:], e.Subject[:])
		n += copy(dst[n:], e.Issuer[:])
		n += copy(dst[n:], e.Record[:])
		binary.BigEndian.PutUint64(dst[n:], uint64(e.AtNanos))
	},
	func(src []byte) (EntryV001, error) {
		e := EntryV001{Kind: Kind(src[0])}
		if !e.Kind.Valid() {
			return e, fmt.Errorf("%w: activity kind %d", sentinel.ErrDecode, src[0])
		}
		n := 1 + copy(e.Subject[:], src[1:])
		n += copy(e.Issuer[:], src[n:])
		n += copy(e.Record[:], src[n:])
		e.AtNanos = int64(binary.BigEndian.Uint64(src[n:]))
		return e, nil
	})

// EntryCodec frames stored entries as [tag][fixed layout].
var EntryCodec = codec.Versioned(
	codec.VariantOf[StoredEntry](1, "V001", entryV001Codec),
)
