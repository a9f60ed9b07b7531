// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"errors"
	"strings"

	"github.com/samber/oops"
)

// Error codes for plugin loading failures.
const (
	CodeMissingDependency  = "MISSING_DEPENDENCY"
	CodeCyclicDependency   = "CYCLIC_DEPENDENCY"
	CodeDependencyVersion  = "DEPENDENCY_VERSION"
	CodeDependencyFailed   = "DEPENDENCY_FAILED"
	CodeManifestLoad       = "MANIFEST_LOAD_FAILED"
	CodeInvalidManifest    = "MANIFEST_INVALID"
	CodeEntryLoad          = "ENTRY_LOAD_FAILED"
	CodeRegistrationClosed = "REGISTRATION_CLOSED"
	CodePluginNotFound     = "PLUGIN_NOT_FOUND"
	CodePluginNotLoaded    = "PLUGIN_NOT_LOADED"
	CodeAlreadyInitialized = "HOST_ALREADY_INITIALIZED"
	CodeReservedPluginName = "RESERVED_PLUGIN_NAME"
)

// Sentinel errors, reachable with errors.Is through the oops wrappers.
var (
	ErrMissingDependency  = errors.New("missing dependency")
	ErrCyclicDependency   = errors.New("cyclic dependency")
	ErrDependencyVersion  = errors.New("dependency version mismatch")
	ErrDependencyFailed   = errors.New("dependency failed to load")
	ErrManifestLoad       = errors.New("manifest load failed")
	ErrInvalidManifest    = errors.New("invalid manifest")
	ErrEntryLoad          = errors.New("entry load failed")
	ErrRegistrationClosed = errors.New("capability registration closed")
	ErrPluginNotFound     = errors.New("plugin not found")
	ErrPluginNotLoaded    = errors.New("plugin not loaded")
)

func missingDependency(plugin, dependency string) error {
	return oops.In("plugin").Code(CodeMissingDependency).
		With("plugin", plugin).
		With("dependency", dependency).
		Hint("install the dependency or remove it from the manifest").
		Wrapf(ErrMissingDependency, "%s requires %s which is not installed", plugin, dependency)
}

func cyclicDependency(path []string) error {
	return oops.In("plugin").Code(CodeCyclicDependency).
		With("cycle", path).
		Wrapf(ErrCyclicDependency, "dependency cycle %s", strings.Join(path, " -> "))
}

func dependencyVersion(plugin, dependency, constraint, version string) error {
	return oops.In("plugin").Code(CodeDependencyVersion).
		With("plugin", plugin).
		With("dependency", dependency).
		With("constraint", constraint).
		With("version", version).
		Wrapf(ErrDependencyVersion, "%s requires %s %s, found %s", plugin, dependency, constraint, version)
}

// dependencyFailed does not wrap cause: its code would shadow
// DEPENDENCY_FAILED. The cause is kept as context.
func dependencyFailed(plugin, dependency string, cause error) error {
	return oops.In("plugin").Code(CodeDependencyFailed).
		With("plugin", plugin).
		With("dependency", dependency).
		With("cause", cause.Error()).
		Wrapf(ErrDependencyFailed, "%s cannot load because %s failed", plugin, dependency)
}

func manifestLoad(plugin, path string, cause error) error {
	return oops.In("plugin").Code(CodeManifestLoad).
		With("plugin", plugin).
		With("path", path).
		Wrapf(errors.Join(ErrManifestLoad, cause), "read manifest for %s", plugin)
}

func invalidManifest(plugin string, cause error) error {
	return oops.In("plugin").Code(CodeInvalidManifest).
		With("plugin", plugin).
		Wrapf(errors.Join(ErrInvalidManifest, cause), "manifest for %s", plugin)
}

func entryLoad(plugin, path string, cause error) error {
	return oops.In("plugin").Code(CodeEntryLoad).
		With("plugin", plugin).
		With("path", path).
		Wrapf(errors.Join(ErrEntryLoad, cause), "read entry for %s", plugin)
}

func registrationClosed(plugin, capability string) error {
	return oops.In("plugin").Code(CodeRegistrationClosed).
		With("plugin", plugin).
		With("capability", capability).
		Wrapf(ErrRegistrationClosed, "%s can only declare capabilities while loading", plugin)
}

func pluginNotFound(name string) error {
	return oops.In("plugin").Code(CodePluginNotFound).
		With("plugin", name).
		Wrapf(ErrPluginNotFound, "plugin %q", name)
}

func pluginNotLoaded(name string, state State) error {
	return oops.In("plugin").Code(CodePluginNotLoaded).
		With("plugin", name).
		With("state", state.String()).
		Wrapf(ErrPluginNotLoaded, "plugin %q is %s", name, state)
}
