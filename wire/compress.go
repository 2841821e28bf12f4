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

package wire

import (
	"fmt"
	"runtime"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Codec selects the payload compression inside a frame.
type Codec byte

const (
	// Raw stores the payload uncompressed.
	Raw Codec = iota
	// Zstd compresses with zstandard.
	Zstd
	// S2 compresses with s2.
	S2

	maxCodec
)

func (c Codec) String() string {
	switch c {
	case Raw:
		return "raw"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	default:
		return "invalid"
	}
}

// CodecByName selects a codec from its textual name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "raw", "none", "":
		return Raw, nil
	case "zstd":
		return Zstd, nil
	case "s2":
		return S2, nil
	}
	return 0, fmt.Errorf("wire: unknown codec %q", name)
}

var (
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	// EncodeAll on a shared encoder wants concurrency 1;
	// the decoder should use every core
	e, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic(err)
	}
	zstdEnc = e
	d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		panic(err)
	}
	zstdDec = d
}

// compress appends the encoded form of src to dst.
func compress(c Codec, dst, src []byte) ([]byte, error) {
	switch c {
	case Raw:
		return append(dst, src...), nil
	case Zstd:
		return zstdEnc.EncodeAll(src, dst), nil
	case S2:
		return append(dst, s2.Encode(nil, src)...), nil
	}
	return nil, fmt.Errorf("wire: unknown codec %d", c)
}

// decompress decodes src into exactly rawLen bytes. The encoded
// length travels in the frame header, so a payload that inflates
// to any other size is corrupt.
func decompress(c Codec, src []byte, rawLen int) ([]byte, error) {
	switch c {
	case Raw:
		if len(src) != rawLen {
			return nil, fmt.Errorf("wire: raw payload is %d bytes, header says %d", len(src), rawLen)
		}
		out := make([]byte, rawLen)
		copy(out, src)
		return out, nil
	case Zstd:
		out, err := zstdDec.DecodeAll(src, make([]byte, 0, rawLen))
		if err != nil {
			return nil, err
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("wire: expected %d bytes decompressed; got %d", rawLen, len(out))
		}
		return out, nil
	case S2:
		out, err := s2.Decode(make([]byte, 0, rawLen), src)
		if err != nil {
			return nil, err
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("wire: expected %d bytes decompressed; got %d", rawLen, len(out))
		}
		return out, nil
	}
	return nil, fmt.Errorf("wire: unknown codec %d", c)
}
