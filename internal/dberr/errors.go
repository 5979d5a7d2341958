// Package dberr defines the error taxonomy shared by the storage,
// session and codec layers. Callers match on the concrete types with
// errors.As, or on the convenience predicates below.
package dberr

import (
	"errors"
	"fmt"
)

// ConfigError reports bad open-time parameters, e.g. an unknown
// backend engine name.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// SchemaError reports a schema violation: missing non-nullable value,
// primary key mismatch on redeclare, or an unknown column referenced
// in a statement or predicate.
type SchemaError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema: table %q column %q: %s", e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("schema: table %q: %s", e.Table, e.Reason)
}

func NewSchemaError(table, column, format string, args ...any) *SchemaError {
	return &SchemaError{Table: table, Column: column, Reason: fmt.Sprintf(format, args...)}
}

// ValueError reports a value whose kind disagrees with its declared
// column kind, or an invalid primary key passed to Get/Merge.
type ValueError struct {
	Column string
	Reason string
}

func (e *ValueError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("value: column %q: %s", e.Column, e.Reason)
	}
	return "value: " + e.Reason
}

func NewValueError(column, format string, args ...any) *ValueError {
	return &ValueError{Column: column, Reason: fmt.Sprintf(format, args...)}
}

// TransactionError reports misuse of transaction scopes, e.g. a
// nested Begin.
type TransactionError struct {
	Reason string
}

func (e *TransactionError) Error() string { return "transaction: " + e.Reason }

func NewTransactionError(format string, args ...any) *TransactionError {
	return &TransactionError{Reason: fmt.Sprintf(format, args...)}
}

// ClosedError reports an operation on a closed Session or Storage.
type ClosedError struct {
	Resource string
}

func (e *ClosedError) Error() string { return e.Resource + " is closed" }

func NewClosedError(resource string) *ClosedError {
	return &ClosedError{Resource: resource}
}

// CorruptDataError reports malformed persisted state discovered by a
// codec during load.
type CorruptDataError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptDataError) Error() string {
	msg := fmt.Sprintf("corrupt data in %q: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptDataError) Unwrap() error { return e.Err }

func NewCorruptDataError(path, reason string, err error) *CorruptDataError {
	return &CorruptDataError{Path: path, Reason: reason, Err: err}
}

func IsConfig(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

func IsSchema(err error) bool {
	var e *SchemaError
	return errors.As(err, &e)
}

func IsValue(err error) bool {
	var e *ValueError
	return errors.As(err, &e)
}

func IsTransaction(err error) bool {
	var e *TransactionError
	return errors.As(err, &e)
}

func IsClosed(err error) bool {
	var e *ClosedError
	return errors.As(err, &e)
}

func IsCorruptData(err error) bool {
	var e *CorruptDataError
	return errors.As(err, &e)
}
