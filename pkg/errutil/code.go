// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package errutil

import "github.com/samber/oops"

// CodeOf returns the error code attached to err, or "" if err is nil or
// carries no code. Wrapped errors are searched through their chain.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	return oopsErr.Code()
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
