// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the primitive encodings of the nslcd
// protocol: big-endian int32 values, length-prefixed strings, string
// lists, and tagged network addresses.
//
// Reader and Writer carry a sticky error: after the first failure every
// further call is a no-op, and Err reports the failure. Callers check
// Err once after a sequence of reads or writes.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"

	"golang.org/x/sys/unix"
)

const (
	// MaxStringSize bounds any single string read from a client.
	MaxStringSize = 64 * 1024
	// MaxListSize bounds the element count of a string list.
	MaxListSize = 4096
)

var (
	// ErrTooLarge is returned when a length prefix exceeds the limits.
	ErrTooLarge = errors.New("wire: length exceeds limit")
	// ErrBadAddress is returned for an address with an unknown family
	// or a length that does not match its family.
	ErrBadAddress = errors.New("wire: malformed address")
)

// Reader decodes protocol values from a stream.
type Reader struct {
	r   *bufio.Reader
	err error
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Int32 reads a big-endian signed 32-bit integer.
func (r *Reader) Int32() int32 {
	if r.err != nil {
		return 0
	}
	var buffer [4]byte
	if _, err := io.ReadFull(r.r, buffer[:]); err != nil {
		r.fail(err)
		return 0
	}
	return int32(binary.BigEndian.Uint32(buffer[:]))
}

// length reads a non-negative length prefix no larger than limit.
func (r *Reader) length(limit int) int {
	n := r.Int32()
	if r.err != nil {
		return 0
	}
	if n < 0 || int(n) > limit {
		r.fail(fmt.Errorf("%w: %d > %d", ErrTooLarge, n, limit))
		return 0
	}
	return int(n)
}

// SkipToHeader discards input one byte at a time until the next eight
// bytes decode as two int32 values accepted by match, and returns how
// many bytes were dropped. It blocks until enough input arrives and
// fails with ErrTooLarge after limit bytes without a match.
func (r *Reader) SkipToHeader(limit int, match func(first, second int32) bool) (int, error) {
	skipped := 0
	for r.err == nil {
		next, err := r.r.Peek(8)
		if err != nil {
			r.fail(err)
			break
		}
		first := int32(binary.BigEndian.Uint32(next[:4]))
		second := int32(binary.BigEndian.Uint32(next[4:]))
		if match(first, second) {
			break
		}
		if skipped >= limit {
			r.fail(fmt.Errorf("%w: no request header in %d bytes", ErrTooLarge, skipped))
			break
		}
		r.r.Discard(1)
		skipped++
	}
	return skipped, r.err
}

// Bytes reads a length-prefixed byte string.
func (r *Reader) Bytes() []byte {
	n := r.length(MaxStringSize)
	if r.err != nil {
		return nil
	}
	buffer := make([]byte, n)
	if _, err := io.ReadFull(r.r, buffer); err != nil {
		r.fail(err)
		return nil
	}
	return buffer
}

// String reads a length-prefixed string.
func (r *Reader) String() string {
	return string(r.Bytes())
}

// StringList reads a count followed by that many strings.
func (r *Reader) StringList() []string {
	n := r.length(MaxListSize)
	if r.err != nil {
		return nil
	}
	values := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		values = append(values, r.String())
	}
	return values
}

// Address reads an address family tag and a length-prefixed raw
// address.
func (r *Reader) Address() netip.Addr {
	family := r.Int32()
	raw := r.Bytes()
	if r.err != nil {
		return netip.Addr{}
	}
	address, err := AddressFromFamily(family, raw)
	if err != nil {
		r.fail(err)
		return netip.Addr{}
	}
	return address
}

// AddressList reads a count followed by that many addresses.
func (r *Reader) AddressList() []netip.Addr {
	n := r.length(MaxListSize)
	if r.err != nil {
		return nil
	}
	addresses := make([]netip.Addr, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		addresses = append(addresses, r.Address())
	}
	return addresses
}

// Ether reads a six byte hardware address.
func (r *Reader) Ether() [6]byte {
	var mac [6]byte
	if r.err != nil {
		return mac
	}
	if _, err := io.ReadFull(r.r, mac[:]); err != nil {
		r.fail(err)
	}
	return mac
}

// AddressFromFamily converts a raw address of the given family.
func AddressFromFamily(family int32, raw []byte) (netip.Addr, error) {
	switch {
	case family == unix.AF_INET && len(raw) == 4:
		return netip.AddrFrom4([4]byte(raw)), nil
	case family == unix.AF_INET6 && len(raw) == 16:
		return netip.AddrFrom16([16]byte(raw)), nil
	}
	return netip.Addr{}, fmt.Errorf("%w: family %d, %d bytes", ErrBadAddress, family, len(raw))
}

// Writer encodes protocol values through a buffer. Output reaches the
// underlying stream when Flush is called or when the buffer fills, so
// a large response may be partly written before Flush.
type Writer struct {
	w   *bufio.Writer
	err error
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Err returns the first error encountered.
func (w *Writer) Err() error { return w.err }

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) write(data []byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write(data); err != nil {
		w.fail(err)
	}
}

// Int32 writes a big-endian signed 32-bit integer.
func (w *Writer) Int32(value int32) {
	var buffer [4]byte
	binary.BigEndian.PutUint32(buffer[:], uint32(value))
	w.write(buffer[:])
}

// Bytes writes a length-prefixed byte string.
func (w *Writer) Bytes(value []byte) {
	w.Int32(int32(len(value)))
	w.write(value)
}

// String writes a length-prefixed string.
func (w *Writer) String(value string) {
	w.Int32(int32(len(value)))
	if w.err != nil {
		return
	}
	if _, err := w.w.WriteString(value); err != nil {
		w.fail(err)
	}
}

// StringList writes a count followed by each string.
func (w *Writer) StringList(values []string) {
	w.Int32(int32(len(values)))
	for _, value := range values {
		w.String(value)
	}
}

// Address writes an address family tag and the raw address. IPv4
// addresses (including IPv4-mapped IPv6) use AF_INET.
func (w *Writer) Address(address netip.Addr) {
	address = address.Unmap()
	if address.Is4() {
		raw := address.As4()
		w.Int32(unix.AF_INET)
		w.Bytes(raw[:])
		return
	}
	raw := address.As16()
	w.Int32(unix.AF_INET6)
	w.Bytes(raw[:])
}

// AddressList writes a count followed by each address.
func (w *Writer) AddressList(addresses []netip.Addr) {
	w.Int32(int32(len(addresses)))
	for _, address := range addresses {
		w.Address(address)
	}
}

// Ether writes a six byte hardware address.
func (w *Writer) Ether(mac [6]byte) {
	w.write(mac[:])
}

// Flush writes buffered data to the underlying stream.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.w.Flush(); err != nil {
		w.fail(err)
	}
	return w.err
}
