// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration used by the dircached
// control socket.
//
// The name-service socket speaks the fixed nslcd binary protocol (see
// package wire). Everything else that crosses a process boundary
// between dircached and dircachectl is CBOR, encoded with Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
//   - `cbor` tag: the type is only ever CBOR, such as the control
//     request envelope.
//   - `json` tag: the type is also printed by dircachectl --json.
//     fxamacker/cbor v2 reads `json` tags when `cbor` tags are absent,
//     so one tag names the field in both formats.
//
// Never use both tags on the same field.
package codec
