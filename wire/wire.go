// Copyright (C) 2023 Quern Labs, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package wire frames encoded expressions for transport between
// a coordinator and its peers. A frame carries the serialized
// expression behind a fixed header (magic, codec, raw length)
// and, when a key is present, a keyed blake2b signature over
// header and payload.
package wire

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/quernlabs/quern/rowexpr"
)

// KeyLength is the length of a frame signing key, in bytes.
const KeyLength = 32

// SignatureLength is the length of a frame signature, in bytes.
const SignatureLength = blake2b.Size256

// Key is a shared secret used to sign and verify frames.
type Key [KeyLength]byte

// RandomKey generates a fresh signing key.
func RandomKey() (*Key, error) {
	k := new(Key)
	if _, err := rand.Read(k[:]); err != nil {
		return nil, err
	}
	return k, nil
}

// ErrBadSignature is returned by Open when a frame signature is
// missing or does not verify against the provided key.
var ErrBadSignature = errors.New("wire: bad frame signature")

var magic = [4]byte{'q', 'e', 'x', '1'}

const (
	headerLength = 9
	flagSigned   = 0x80
	codecMask    = 0x7f

	// maxRawLen bounds the decoded payload size so a corrupt
	// header cannot drive a huge allocation.
	maxRawLen = 1 << 28
)

// Seal encodes an expression into a frame. A nil key produces an
// unsigned frame.
func Seal(n rowexpr.Node, c Codec, key *Key) ([]byte, error) {
	if c >= maxCodec {
		return nil, fmt.Errorf("wire: unknown codec %d", c)
	}
	raw, err := rowexpr.EncodeNode(n)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxRawLen {
		return nil, fmt.Errorf("wire: expression encodes to %d bytes; limit is %d", len(raw), maxRawLen)
	}
	flags := byte(c)
	if key != nil {
		flags |= flagSigned
	}
	buf := make([]byte, headerLength, headerLength+len(raw))
	copy(buf, magic[:])
	buf[4] = flags
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(raw)))
	buf, err = compress(c, buf, raw)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return buf, nil
	}
	h, err := blake2b.New256(key[:])
	if err != nil {
		return nil, err
	}
	h.Write(buf)
	return h.Sum(buf), nil
}

// Open verifies and decodes a frame produced by Seal. With a
// non-nil key the frame must carry a signature that verifies;
// with a nil key signatures are stripped without verification.
func Open(buf []byte, key *Key) (rowexpr.Node, error) {
	if len(buf) < headerLength {
		return nil, fmt.Errorf("wire: frame of %d bytes is too short", len(buf))
	}
	if string(buf[:4]) != string(magic[:]) {
		return nil, fmt.Errorf("wire: bad frame magic %x", buf[:4])
	}
	flags := buf[4]
	c := Codec(flags & codecMask)
	if c >= maxCodec {
		return nil, fmt.Errorf("wire: unknown codec %d", c)
	}
	rawLen := int(binary.BigEndian.Uint32(buf[5:9]))
	if rawLen > maxRawLen {
		return nil, fmt.Errorf("wire: raw length %d exceeds limit %d", rawLen, maxRawLen)
	}
	payload := buf[headerLength:]
	if flags&flagSigned != 0 {
		if len(payload) < SignatureLength {
			return nil, ErrBadSignature
		}
		split := len(buf) - SignatureLength
		if key != nil {
			h, err := blake2b.New256(key[:])
			if err != nil {
				return nil, err
			}
			h.Write(buf[:split])
			if subtle.ConstantTimeCompare(h.Sum(nil), buf[split:]) != 1 {
				return nil, ErrBadSignature
			}
		}
		payload = buf[headerLength:split]
	} else if key != nil {
		// the caller demands authentication
		return nil, ErrBadSignature
	}
	raw, err := decompress(c, payload, rawLen)
	if err != nil {
		return nil, err
	}
	return rowexpr.DecodeNode(raw)
}
