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
	"errors"
	"strings"
	"testing"

	"github.com/quernlabs/quern/rowexpr"
)

// sample builds an expression with calls, forms, and variables so
// a frame exercises most of the node encoding.
func sample() rowexpr.Node {
	lt := rowexpr.FuncRef{
		Name: "$operator$less_than",
		Args: []rowexpr.Type{rowexpr.Integer, rowexpr.Integer},
		Ret:  rowexpr.Boolean,
	}
	concat := rowexpr.FuncRef{
		Name: "concat",
		Args: []rowexpr.Type{rowexpr.VarcharAny, rowexpr.VarcharAny},
		Ret:  rowexpr.VarcharAny,
	}
	return rowexpr.If(
		rowexpr.NewCall(lt, rowexpr.Boolean, rowexpr.Field(0, rowexpr.Integer), rowexpr.Int(3)),
		rowexpr.NewCall(concat, rowexpr.VarcharAny,
			rowexpr.Str("lo:"), rowexpr.Var("s", rowexpr.VarcharAny)),
		rowexpr.Coalesce(rowexpr.Var("alt", rowexpr.VarcharAny), rowexpr.Str("none")),
	)
}

func TestSealOpenRoundTrip(t *testing.T) {
	in := sample()
	for _, c := range []Codec{Raw, Zstd, S2} {
		buf, err := Seal(in, c, nil)
		if err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		if string(buf[:4]) != "qex1" {
			t.Errorf("%s: frame magic %q", c, buf[:4])
		}
		if buf[4] != byte(c) {
			t.Errorf("%s: unsigned frame has flags %#x", c, buf[4])
		}
		out, err := Open(buf, nil)
		if err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		if !rowexpr.Equal(in, out) {
			t.Errorf("%s: round trip produced %s", c, rowexpr.ToString(out))
		}
	}
}

func TestCompressedFramesAreSmaller(t *testing.T) {
	big := rowexpr.Str(strings.Repeat("quern", 4000))
	raw, err := Seal(big, Raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []Codec{Zstd, S2} {
		buf, err := Seal(big, c, nil)
		if err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		if len(buf) >= len(raw) {
			t.Errorf("%s frame is %d bytes; raw is %d", c, len(buf), len(raw))
		}
		out, err := Open(buf, nil)
		if err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		if !rowexpr.Equal(big, out) {
			t.Errorf("%s: payload corrupted by compression", c)
		}
	}
}

func TestSignedFrames(t *testing.T) {
	key, err := RandomKey()
	if err != nil {
		t.Fatal(err)
	}
	in := sample()
	buf, err := Seal(in, Zstd, key)
	if err != nil {
		t.Fatal(err)
	}
	if buf[4]&flagSigned == 0 {
		t.Fatal("sealed frame is not marked signed")
	}
	out, err := Open(buf, key)
	if err != nil {
		t.Fatal(err)
	}
	if !rowexpr.Equal(in, out) {
		t.Errorf("signed round trip produced %s", rowexpr.ToString(out))
	}
	// a nil key strips the signature without verifying it
	if _, err := Open(buf, nil); err != nil {
		t.Errorf("unverified open: %v", err)
	}

	// tampering with the payload breaks the signature
	evil := append([]byte(nil), buf...)
	evil[headerLength+1] ^= 0x40
	if _, err := Open(evil, key); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered payload: %v", err)
	}
	// so does tampering with the signature itself
	evil = append([]byte(nil), buf...)
	evil[len(evil)-1] ^= 0x01
	if _, err := Open(evil, key); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered signature: %v", err)
	}
	// and verifying with a different key
	other, err := RandomKey()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(buf, other); !errors.Is(err, ErrBadSignature) {
		t.Errorf("wrong key: %v", err)
	}
	// a signed frame cut short of its signature is rejected
	if _, err := Open(buf[:headerLength+8], key); !errors.Is(err, ErrBadSignature) {
		t.Errorf("truncated signed frame: %v", err)
	}

	// an unsigned frame never satisfies a caller holding a key
	plain, err := Seal(in, Raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(plain, key); !errors.Is(err, ErrBadSignature) {
		t.Errorf("unsigned frame with key: %v", err)
	}
}

func TestFrameErrors(t *testing.T) {
	buf, err := Seal(sample(), Raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(buf[:4], nil); err == nil {
		t.Error("opened a truncated header")
	}
	evil := append([]byte(nil), buf...)
	evil[0] ^= 0xff
	if _, err := Open(evil, nil); err == nil {
		t.Error("opened a frame with bad magic")
	}
	evil = append([]byte(nil), buf...)
	evil[4] = codecMask
	if _, err := Open(evil, nil); err == nil {
		t.Error("opened a frame with an unknown codec")
	}
	// the header length must agree with the raw payload
	evil = append([]byte(nil), buf...)
	evil[8]++
	if _, err := Open(evil, nil); err == nil {
		t.Error("opened a frame with a wrong length")
	}
	evil = append([]byte(nil), buf...)
	evil[5] = 0xff
	if _, err := Open(evil, nil); err == nil {
		t.Error("opened a frame past the length limit")
	}
	// compressed garbage does not decode
	junk := []byte{'q', 'e', 'x', '1', byte(Zstd), 0, 0, 0, 4, 9, 9, 9, 9}
	if _, err := Open(junk, nil); err == nil {
		t.Error("opened a frame with garbage zstd payload")
	}

	if _, err := Seal(sample(), maxCodec, nil); err == nil {
		t.Error("sealed with an invalid codec")
	}
	// runtime-only constants cannot travel
	pat, err := rowexpr.CompileLike("a%", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Seal(rowexpr.Const(pat, rowexpr.LikePattern), Raw, nil); err == nil {
		t.Error("sealed a compiled pattern")
	}
}

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name string
		want Codec
	}{
		{"raw", Raw},
		{"none", Raw},
		{"", Raw},
		{"zstd", Zstd},
		{"s2", S2},
	}
	for i, tc := range tests {
		got, err := CodecByName(tc.name)
		if err != nil || got != tc.want {
			t.Errorf("case %d: CodecByName(%q) = %v, %v", i, tc.name, got, err)
		}
	}
	if _, err := CodecByName("brotli"); err == nil {
		t.Error("CodecByName(brotli) succeeded")
	}
	if Zstd.String() != "zstd" || Codec(99).String() != "invalid" {
		t.Error("codec names did not round trip")
	}
}
