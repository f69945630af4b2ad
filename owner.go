// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package questdb

import "sync/atomic"

// Owner is the Go-idiomatic stand-in for the source's
// Thread.currentThread().getId(): Go has no portable goroutine identity, so
// ownership of a slot (for the hot acquire/release path) or of a name's lock
// (for the administrative Lock/Unlock path) is tracked with an explicit,
// caller-opaque token instead.
//
// A Handle mints its own Owner internally; callers never see it. Lock and
// Unlock require the caller to mint one with NewOwner and reuse it across
// retries, since re-entrant locking and unlock authorization both depend on
// recognizing "the same caller" without any ambient identity to compare.
type Owner int64

var ownerSeq atomic.Int64

// NewOwner mints a process-wide unique Owner token.
func NewOwner() Owner {
	return Owner(ownerSeq.Add(1))
}
