package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownScheme       = fmt.Errorf("unknown feed scheme")
	ErrUnitNotFound        = fmt.Errorf("unit not found")
	ErrTaskNotFound        = fmt.Errorf("task record not found")
	ErrTaskFailed          = fmt.Errorf("task failed")
	ErrSyncAlreadyStarted  = fmt.Errorf("sync process has already started")
	ErrRepositoryNotFound  = fmt.Errorf("repository not found")
	ErrNoMetadataDocuments = fmt.Errorf("no metadata documents retrieved")
)

// RetrievalError means a metadata document or an artifact is missing or unreadable.
type RetrievalError struct {
	Source string
	Err    error
}

func NewRetrievalError(source string, err error) *RetrievalError {
	return &RetrievalError{Source: source, Err: err}
}

func (e *RetrievalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot retrieve %s", e.Source)
	}

	return fmt.Sprintf("cannot retrieve %s: %s", e.Source, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// ParseError means a metadata document does not match the expected schema.
// Index is the position of the offending record, -1 when the whole document is wrong.
type ParseError struct {
	Index int
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("cannot parse module record %d: missing required field %q", e.Index, e.Field)
	case e.Index >= 0:
		return fmt.Sprintf("cannot parse module record %d: %s", e.Index, e.Err)
	default:
		return fmt.Sprintf("cannot parse metadata document: %s", e.Err)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return e.Msg
}

type ChecksumError struct {
	Filename string
	Type     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s (%s): expected %s, got %s", e.Filename, e.Type, e.Expected, e.Actual)
}

// ValidationError is returned when the host platform rejects a request (400).
type ValidationError struct {
	StatusCode    int
	PropertyNames []string
	Message       string
	Extra         map[string]any
}

func (e *ValidationError) Error() string {
	if len(e.PropertyNames) == 0 {
		return fmt.Sprintf("request rejected (%d): %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("request rejected (%d): %s [invalid: %s]", e.StatusCode, e.Message, strings.Join(e.PropertyNames, ", "))
}

func IsRetrievalError(err error) bool {
	var re *RetrievalError

	return errors.As(err, &re)
}
