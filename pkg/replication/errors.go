package replication

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotImplemented signals an unsupported engine or destination family.
	ErrNotImplemented = errors.New("engine not implemented")
	// ErrConnectionRefused signals an auth/network failure: the liveness
	// probe did not succeed. Callers must not retry without backoff.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrMissingCredentials signals an absent required connection field for
	// the destination type.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrMissingTaggedColumn signals a view without a primary-key,
	// last-modified, or tenant column.
	ErrMissingTaggedColumn = errors.New("missing tagged column")
	// ErrDatabaseError marks failures raised by a source database query
	// while driving a transfer.
	ErrDatabaseError = errors.New("database error")
	// ErrStagingFailure marks errors raised while writing the intermediate
	// staged artifact.
	ErrStagingFailure = errors.New("staging failure")
	// ErrUpsertFailure marks errors raised by the merge/upsert statement.
	ErrUpsertFailure = errors.New("upsert failure")
)

// CredentialsError reports which connection fields were absent.
type CredentialsError struct {
	Destination string
	Missing     []string
}

func (e *CredentialsError) Error() string {
	if e == nil || len(e.Missing) == 0 {
		return "missing credentials"
	}
	return fmt.Sprintf("missing credentials for destination %s: %s", e.Destination, strings.Join(e.Missing, ", "))
}

func (e *CredentialsError) Unwrap() error {
	return ErrMissingCredentials
}
