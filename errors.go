// Copyright (C) 2026 Ntropish
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ptri

import "errors"

var (
	// ErrNotReady is returned when an operation is invoked before Start
	// has completed.
	ErrNotReady = errors.New("session not ready: call Start first")

	// ErrClosed is returned when an operation is invoked after Close.
	ErrClosed = errors.New("session is closed")

	// ErrInvalidCheckout is returned when Checkout is called with an empty
	// snapshot id. The timeline is not touched.
	ErrInvalidCheckout = errors.New("checkout requires a non-empty snapshot id")

	// ErrNilEngine is returned by New when no engine is configured.
	ErrNilEngine = errors.New("engine must not be nil")

	// ErrNilContext is returned when a nil context is passed to an
	// operation that requires one.
	ErrNilContext = errors.New("context must not be nil")
)
