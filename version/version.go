// Copyright 2025 Keymesh Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package version holds the build identifier reported by the storage
// manager's admin space.
package version

// Build is the identifier published at the admin "/version" key. It is
// overridden at release time via -ldflags.
var Build = "0.9.1"
