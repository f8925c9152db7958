// Package apierr defines the stable error codes and the wire shape every
// generated operation fails with.
//
// Callers route on [Error.Code]; the message is informational and may be
// omitted or localized.
package apierr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code is a stable, machine-readable failure code.
type Code string

const (
	NotFound            Code = "NOT_FOUND"
	NotAuthenticated    Code = "NOT_AUTHENTICATED"
	NotAuthorized       Code = "NOT_AUTHORIZED"
	Forbidden           Code = "FORBIDDEN"
	NotOrgMember        Code = "NOT_ORG_MEMBER"
	InsufficientOrgRole Code = "INSUFFICIENT_ORG_ROLE"
	CannotModifyOwner   Code = "CANNOT_MODIFY_OWNER"
	CannotModifyAdmin   Code = "CANNOT_MODIFY_ADMIN"
	TargetMustBeAdmin   Code = "TARGET_MUST_BE_ADMIN"
	Conflict            Code = "CONFLICT"
	RateLimited         Code = "RATE_LIMITED"
	LimitExceeded       Code = "LIMIT_EXCEEDED"
	ValidationFailed    Code = "VALIDATION_FAILED"
	InvalidWhere        Code = "INVALID_WHERE"
	OrgSlugTaken        Code = "ORG_SLUG_TAKEN"
	AlreadyOrgMember    Code = "ALREADY_ORG_MEMBER"
	JoinRequestExists   Code = "JOIN_REQUEST_EXISTS"
	InviteExpired       Code = "INVITE_EXPIRED"
	InvalidInvite       Code = "INVALID_INVITE"
	Internal            Code = "INTERNAL"
)

var messages = map[Code]string{
	NotFound:            "Not found",
	NotAuthenticated:    "Please log in",
	NotAuthorized:       "You do not own this resource",
	Forbidden:           "You do not have permission to do this",
	NotOrgMember:        "Not a member of this organization",
	InsufficientOrgRole: "Your organization role does not allow this",
	CannotModifyOwner:   "The organization owner cannot be modified",
	CannotModifyAdmin:   "Only the owner can modify an admin",
	TargetMustBeAdmin:   "Ownership can only be transferred to an admin",
	Conflict:            "The document was modified by someone else",
	RateLimited:         "Too many requests",
	LimitExceeded:       "Limit exceeded",
	ValidationFailed:    "Validation failed",
	InvalidWhere:        "Invalid filter",
	OrgSlugTaken:        "Organization slug is already taken",
	AlreadyOrgMember:    "Already a member of this organization",
	JoinRequestExists:   "A join request is already pending",
	InviteExpired:       "Invite has expired",
	InvalidInvite:       "Invite is not valid",
	Internal:            "Internal error",
}

// Message returns the default human-readable message for a code.
func Message(code Code) string {
	return messages[code]
}

// Error is the wire shape of a failed operation.
type Error struct {
	Code        Code              `json:"code"`
	Message     string            `json:"message,omitempty"`
	Debug       string            `json:"debug,omitempty"`
	Table       string            `json:"table,omitempty"`
	Op          string            `json:"op,omitempty"`
	Fields      []string          `json:"fields,omitempty"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`

	// RetryAfter is the number of milliseconds until a rate-limited call may succeed.
	RetryAfter int64 `json:"retryAfter,omitempty"`

	cause error
}

// New returns an error for code. label, when non-empty, names the resource
// as "table:op" and is split on the first ':'.
func New(code Code, label string) *Error {
	e := &Error{Code: code, Message: messages[code]}
	if label != "" {
		table, op, found := strings.Cut(label, ":")
		e.Table = table
		if found {
			e.Op = op
		}
	}
	return e
}

// Wrap returns an INTERNAL error carrying err as its cause.
func Wrap(err error, label string) *Error {
	e := New(Internal, label)
	e.Debug = err.Error()
	e.cause = err
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Table != "" {
		b.WriteString(" ")
		b.WriteString(e.Table)
		if e.Op != "" {
			b.WriteString(":")
			b.WriteString(e.Op)
		}
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Debug != "" {
		fmt.Fprintf(&b, " (%s)", e.Debug)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error with the same code, so errors.Is(err, apierr.New(apierr.Conflict, ""))
// works regardless of labels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessage replaces the human-readable message.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithDebug attaches developer-facing detail.
func (e *Error) WithDebug(format string, args ...any) *Error {
	e.Debug = fmt.Sprintf(format, args...)
	return e
}

// WithFields names the offending fields.
func (e *Error) WithFields(fields ...string) *Error {
	e.Fields = append(e.Fields, fields...)
	return e
}

// WithFieldErrors attaches per-field messages.
func (e *Error) WithFieldErrors(fe map[string]string) *Error {
	e.FieldErrors = fe
	names := make([]string, 0, len(fe))
	for f := range fe {
		names = append(names, f)
	}
	sort.Strings(names)
	e.Fields = append(e.Fields, names...)
	return e
}

// WithRetryAfter sets the retry hint in milliseconds.
func (e *Error) WithRetryAfter(ms int64) *Error {
	e.RetryAfter = ms
	return e
}

// CodeOf returns the code of err, or INTERNAL when err is not an *Error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// As converts any error to an *Error, wrapping foreign errors as INTERNAL.
func As(err error, label string) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, label)
}

// Label fills in the table and op of err when it is an *Error that does not
// name a resource yet, or names only label's table. Other errors are
// returned unchanged.
func Label(err error, label string) error {
	var e *Error
	if label == "" || !errors.As(err, &e) {
		return err
	}
	table, op, _ := strings.Cut(label, ":")
	switch {
	case e.Table == "":
		e.Table, e.Op = table, op
	case e.Table == table && e.Op == "":
		e.Op = op
	}
	return err
}
