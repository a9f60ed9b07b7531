// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package capability

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for capability failures.
const (
	CodeUnknownCapability   = "UNKNOWN_CAPABILITY"
	CodeDuplicateCapability = "DUPLICATE_CAPABILITY"
	CodeCapabilityDenied    = "CAPABILITY_DENIED"
	CodeRecursive           = "RECURSIVE_CAPABILITY"
	CodeInvalidArgument     = "INVALID_CAPABILITY_ARGUMENT"
)

// Sentinel errors; every capability error wraps one of these.
var (
	ErrUnknownCapability   = errors.New("unknown capability")
	ErrDuplicateCapability = errors.New("duplicate capability")
	ErrCapabilityDenied    = errors.New("capability denied")
	ErrRecursive           = errors.New("capability requested while it is being built")
	ErrInvalidArgument     = errors.New("invalid capability argument")
)

func unknownCapability(provider, name, consumer string) error {
	return oops.In("capability").Code(CodeUnknownCapability).
		With("provider", provider).
		With("capability", name).
		With("consumer", consumer).
		Wrapf(ErrUnknownCapability, "plugin %q has no capability %q (requested by %q)", provider, name, consumer)
}

func duplicateCapability(provider, name string) error {
	return oops.In("capability").Code(CodeDuplicateCapability).
		With("provider", provider).
		With("capability", name).
		Wrapf(ErrDuplicateCapability, "plugin %q already registered capability %q", provider, name)
}

// Denied creates the error returned when consumer lacks a grant for
// provider's capability.
func Denied(consumer, provider, name string) error {
	return oops.In("capability").Code(CodeCapabilityDenied).
		With("provider", provider).
		With("capability", name).
		With("consumer", consumer).
		Wrapf(ErrCapabilityDenied, "plugin %q may not use %s.%s", consumer, provider, name)
}

func recursiveCapability(name, consumer string) error {
	return oops.In("capability").Code(CodeRecursive).
		With("capability", name).
		With("consumer", consumer).
		Wrapf(ErrRecursive, "capability %q for %q requested from its own use handler", name, consumer)
}

func invalidArgument(provider, name string, index int) error {
	return oops.In("capability").Code(CodeInvalidArgument).
		With("provider", provider).
		With("capability", name).
		With("argument", index+1).
		Wrapf(ErrInvalidArgument, "%s.%s: argument %d contains a function and cannot be used as a cache key", provider, name, index+1)
}
