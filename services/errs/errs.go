package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies failures so callers can decide whether to skip an item,
// rotate an account or stop the run.
type Kind int

const (
	Unknown Kind = iota
	Transport
	Auth
	Captcha
	Quota
	Maintenance
	Unprocessable
	Integrity
	Catalog
	Storage
	NoAccounts
)

var kindNames = map[Kind]string{
	Unknown:       "unknown",
	Transport:     "transport",
	Auth:          "auth",
	Captcha:       "captcha",
	Quota:         "quota",
	Maintenance:   "maintenance",
	Unprocessable: "unprocessable",
	Integrity:     "integrity",
	Catalog:       "catalog",
	Storage:       "storage",
	NoAccounts:    "no_accounts",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Err: errors.Errorf(format, args...)}
}

// Wrap attaches a kind to err. An error that already carries a kind keeps it.
func Wrap(k Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return errors.Wrap(err, msg)
	}
	return &Error{Kind: k, Err: errors.Wrap(err, msg)}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Rotates reports whether the failure is tied to the account in use.
func Rotates(err error) bool {
	switch KindOf(err) {
	case Quota, Captcha, Auth:
		return true
	}
	return false
}

// Aborts reports whether the failure must stop the whole run.
func Aborts(err error) bool {
	switch KindOf(err) {
	case NoAccounts, Maintenance, Transport:
		return true
	}
	return false
}
