/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package lock provides per-PR exclusive leases over the state store. A lease
// carries an opaque token that must accompany renew and release; expired
// leases are eligible for takeover by another holder.
package lock
