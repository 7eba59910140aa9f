package models

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"emrvault/pkg/platform/sentinel"
)

const (
	SubjectIDSize = 32
	IssuerIDSize  = 16
	RecordIDSize  = 16
	HashedIDSize  = 32
)

// SubjectID identifies a patient. It is already a one-way hash of the
// patient's identity when it reaches this package.
type SubjectID [SubjectIDSize]byte

// IssuerID identifies the provider that issued a record.
type IssuerID [IssuerIDSize]byte

// RecordID identifies one EMR. It is drawn from the identifier generator.
type RecordID [RecordIDSize]byte

// HashedID is the caller-computed 32-byte digest used as a blind index key.
type HashedID [HashedIDSize]byte

func invalidKey(format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel.ErrInvalidKeyFormat, fmt.Sprintf(format, args...))
}

func checkLen(name string, b []byte, want int) error {
	if len(b) != want {
		return invalidKey("%s must be %d bytes, got %d", name, want, len(b))
	}
	return nil
}

func ParseSubjectID(b []byte) (SubjectID, error) {
	if err := checkLen("subject id", b, SubjectIDSize); err != nil {
		return SubjectID{}, err
	}
	return SubjectID(b), nil
}

// ParseSubjectHex parses the 64-character hex form used on the wire.
func ParseSubjectHex(s string) (SubjectID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return SubjectID{}, invalidKey("subject id: %v", err)
	}
	return ParseSubjectID(b)
}

func (id SubjectID) String() string { return hex.EncodeToString(id[:]) }

func ParseHashedID(b []byte) (HashedID, error) {
	if err := checkLen("hashed id", b, HashedIDSize); err != nil {
		return HashedID{}, err
	}
	return HashedID(b), nil
}

func ParseHashedHex(s string) (HashedID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return HashedID{}, invalidKey("hashed id: %v", err)
	}
	return ParseHashedID(b)
}

func (id HashedID) String() string { return hex.EncodeToString(id[:]) }

// ParseIssuerID accepts the 36-character hyphenated form.
func ParseIssuerID(s string) (IssuerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return IssuerID{}, invalidKey("issuer id: %v", err)
	}
	return IssuerID(u), nil
}

func (id IssuerID) String() string { return uuid.UUID(id).String() }

func ParseRecordID(s string) (RecordID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RecordID{}, invalidKey("record id: %v", err)
	}
	return RecordID(u), nil
}

func (id RecordID) String() string { return uuid.UUID(id).String() }

func (id RecordID) IsZero() bool { return id == RecordID{} }
