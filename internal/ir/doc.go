// Package ir provides the canonical value model used for content addressing.
//
// Every effect payload, resource value and outcome is expressed as an ir.Value
// so that it has exactly one byte representation. All other packages import
// ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for amounts and positions
//   - Canonical JSON follows RFC 8785 (sorted keys by UTF-16 code units,
//     no HTML escaping, NFC-normalised strings)
//   - Hashes are SHA-256 with a versioned domain prefix
//   - Logical sequence numbers only, never wall-clock timestamps
package ir
