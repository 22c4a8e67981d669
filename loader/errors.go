// Copyright (c) 2017-2026 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package loader

import "github.com/multiwallet/keysafe/errors"

var (
	// ErrLoaded describes the error condition of attempting to open the
	// databases when the loader has already done so.
	ErrLoaded = errors.E(errors.Invalid, "databases already loaded")

	// ErrNotLoaded describes the error condition of attempting to use or
	// close the databases before they have been opened.
	ErrNotLoaded = errors.E(errors.Invalid, "databases are not loaded")

	// ErrWrongPassword describes the error condition of a password that does
	// not match the installation password.
	ErrWrongPassword = errors.E(errors.Passphrase, "password does not match")
)
