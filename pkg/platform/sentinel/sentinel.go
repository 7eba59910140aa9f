package sentinel

import "errors"

// Sentinel errors for storage facts. The storage core returns these (wrapped with
// context) so services can translate them into domain errors.
//
// These represent factual states about persisted data, not validation failures:
// - ErrNotFound: no entry exists at the addressed key
// - ErrConflict: an entry already exists where none was expected
// - ErrOutOfMemory: a region or container cannot grow further
// - ErrDecode: stored bytes do not match the declared layout or bound
// - ErrUnknownVersion: a versioned payload carries an unrecognised tag (also matches ErrDecode)
// - ErrInvalidKeyFormat: a key component violates its fixed width or charset
// - ErrRandomnessUnavailable: the entropy provider could not be reached
// - ErrNotSeeded: the identifier generator has not completed its first seed
// - ErrRegionClaimed: a region was requested by a second owner
//
// For request validation (missing fields, bad JSON), use pkg/domain-errors directly.
var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrOutOfMemory           = errors.New("out of memory")
	ErrDecode                = errors.New("decode error")
	ErrUnknownVersion        = &unknownVersionError{}
	ErrInvalidKeyFormat      = errors.New("invalid key format")
	ErrRandomnessUnavailable = errors.New("randomness unavailable")
	ErrNotSeeded             = errors.New("generator not seeded")
	ErrRegionClaimed         = errors.New("region already claimed")
)

type unknownVersionError struct{}

func (*unknownVersionError) Error() string { return "unknown version tag" }

// Is lets errors.Is(err, ErrDecode) match an unknown version.
func (*unknownVersionError) Is(target error) bool { return target == ErrDecode }
