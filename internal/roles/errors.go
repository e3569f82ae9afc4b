// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package roles

import "errors"

// ErrNotFound is returned when a requested grant does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateGrant is returned when an identity already holds the role.
var ErrDuplicateGrant = errors.New("role already granted")
