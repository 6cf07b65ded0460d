// Package ipserr provides the toolkit's structured error taxonomy: every
// fallible operation returns a typed *Error carrying a stable code, a short
// message, a help hint, and an optional underlying cause, instead of raw
// fmt.Errorf strings or panics.
package ipserr

import (
	"fmt"
	"sort"
	"sync"
)

// ErrorCode is a stable, registry-assigned numeric identifier for an error
// descriptor.
type ErrorCode int

// ErrorDescriptor describes a class of error recognized by the toolkit.
type ErrorDescriptor struct {
	Code ErrorCode

	// Value is a unique, all-caps identifier, e.g. "DIGEST_MISMATCH".
	Value string

	// Message is a short, human-readable summary.
	Message string

	// Description is a longer explanation of the error's cause.
	Description string

	// Help tells a caller what to check to recover: a path, a permission,
	// a regex, catalog freshness, etc. Every descriptor must set this -
	// spec.md §7 requires "every error carries a help line".
	Help string
}

var (
	codeToDescriptor  = map[ErrorCode]ErrorDescriptor{}
	valueToDescriptor = map[string]ErrorDescriptor{}
	groupToDescriptor = map[string][]ErrorDescriptor{}

	nextCode     = 1000
	registerLock sync.Mutex
)

// Register makes a new error descriptor known to the toolkit and assigns it
// a stable code, returning the descriptor with its Code set. It panics on a
// duplicate Value, mirroring the teacher's errcode.register: descriptor
// registration happens at package init time, so a collision is a
// programming error, not a runtime condition to recover from.
func Register(group string, descriptor ErrorDescriptor) ErrorDescriptor {
	registerLock.Lock()
	defer registerLock.Unlock()

	descriptor.Code = ErrorCode(nextCode)

	if _, ok := valueToDescriptor[descriptor.Value]; ok {
		panic(fmt.Sprintf("ipserr: value %q already registered", descriptor.Value))
	}

	groupToDescriptor[group] = append(groupToDescriptor[group], descriptor)
	codeToDescriptor[descriptor.Code] = descriptor
	valueToDescriptor[descriptor.Value] = descriptor
	nextCode++
	return descriptor
}

// GetGroupNames returns the sorted list of registered error groups.
func GetGroupNames() []string {
	names := make([]string, 0, len(groupToDescriptor))
	for n := range groupToDescriptor {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetGroup returns the descriptors registered under name, sorted by Value.
func GetGroup(name string) []ErrorDescriptor {
	descs := append([]ErrorDescriptor(nil), groupToDescriptor[name]...)
	sort.Slice(descs, func(i, j int) bool { return descs[i].Value < descs[j].Value })
	return descs
}

// Error is a concrete, structured error: a descriptor plus call-site detail
// and an optional wrapped cause.
type Error struct {
	Descriptor ErrorDescriptor
	Detail     string
	Cause      error
}

// New builds an *Error from a registered descriptor.
func New(descriptor ErrorDescriptor, detail string, cause error) *Error {
	return &Error{Descriptor: descriptor, Detail: detail, Cause: cause}
}

func (e *Error) Error() string {
	msg := e.Descriptor.Message
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same descriptor Value,
// so `errors.Is(err, New(ErrDigestMismatch, "", nil))` matches any error
// built from that descriptor.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Descriptor.Value == e.Descriptor.Value
}
