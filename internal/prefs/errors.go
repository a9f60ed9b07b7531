// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package prefs

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for preference failures.
const (
	CodeReadOnly = "READ_ONLY_VIOLATION"
	CodeNodeKind = "NODE_KIND_MISMATCH"
	CodeValue    = "INVALID_PREFERENCE_VALUE"
)

// Sentinel errors; preference errors wrap one of these.
var (
	ErrReadOnly  = errors.New("dictionary is read-only")
	ErrNodeKind  = errors.New("node kind mismatch")
	ErrNotLoaded = errors.New("preferences not loaded")
	ErrClosed    = errors.New("preferences closed")
	ErrValue     = errors.New("value cannot be stored")
)

func readOnlyViolation(path, key string) error {
	return oops.In("prefs").Code(CodeReadOnly).
		With("dictionary", path).
		With("key", key).
		Wrapf(ErrReadOnly, "cannot set %q: dictionary %q is read-only", key, path)
}

func nodeKindMismatch(path string, want, got Kind) error {
	return oops.In("prefs").Code(CodeNodeKind).
		With("path", path).
		With("expected", string(want)).
		With("actual", string(got)).
		Wrapf(ErrNodeKind, "key %q is a %s, not a %s", path, got, want)
}

func invalidValue(path string, cause error) error {
	return oops.In("prefs").Code(CodeValue).
		With("path", path).
		With("reason", cause.Error()).
		Wrapf(ErrValue, "cannot store value at %q", path)
}
