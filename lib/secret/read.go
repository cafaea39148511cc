// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// maxSecretSize bounds what ReadFromPath will load.
const maxSecretSize = 4096

// ReadFromPath reads a password from the first line of a file, or of
// stdin if path is "-". The line ending is removed; other whitespace is
// part of the password. The caller must Close the
// returned Buffer.
func ReadFromPath(path string) (*Buffer, error) {
	if path == "-" {
		return readFrom(os.Stdin, "stdin")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readFrom(file, path)
}

func readFrom(reader io.Reader, name string) (*Buffer, error) {
	line, err := bufio.NewReaderSize(io.LimitReader(reader, maxSecretSize+1), maxSecretSize+1).ReadSlice('\n')
	if err != nil && err != io.EOF {
		Zero(line)
		if err == bufio.ErrBufferFull {
			return nil, fmt.Errorf("secret in %s exceeds %d bytes", name, maxSecretSize)
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	trimmed := bytes.TrimRight(line, "\r\n")
	if len(trimmed) == 0 {
		Zero(line)
		return nil, fmt.Errorf("secret in %s is empty", name)
	}
	buffer, err := NewFromBytes(trimmed)
	Zero(line)
	return buffer, err
}
