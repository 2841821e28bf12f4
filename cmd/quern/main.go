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

package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/quernlabs/quern/catalog"
	"github.com/quernlabs/quern/interp"
	"github.com/quernlabs/quern/rowexpr"
	"github.com/quernlabs/quern/wire"
)

var (
	dashv     bool
	dashh     bool
	dashr     bool
	dashk     string
	dasho     string
	dashm     string
	level     string
	codec     string
	user      string
	zone      string
	dashsign  bool
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose")
	flag.BoolVar(&dashh, "h", false, "show usage help")
	flag.BoolVar(&dashr, "redact", false, "redact constants when printing")
	flag.StringVar(&dashk, "k", "", "frame signing key file (32 raw or 64 hex bytes)")
	flag.StringVar(&dasho, "o", "-", "output file (or - for stdout)")
	flag.StringVar(&dashm, "m", "", "catalog manifest to load (yaml)")
	flag.StringVar(&level, "level", "optimized", "evaluation level (serializable, optimized, evaluated)")
	flag.StringVar(&codec, "codec", "zstd", "frame codec (raw, zstd, s2)")
	flag.StringVar(&user, "user", "quern", "session user")
	flag.StringVar(&zone, "zone", "UTC", "session time zone")
	flag.BoolVar(&dashsign, "sign", false, "sign output frames even without an input key")
}

func exitf(f string, args ...any) {
	fmt.Fprintf(os.Stderr, f, args...)
	if !strings.HasSuffix(f, "\n") {
		fmt.Fprintln(os.Stderr)
	}
	os.Exit(1)
}

func logf(f string, args ...any) {
	if dashv {
		log.Printf(f, args...)
	}
}

func parseLevel(s string) interp.Level {
	switch strings.ToLower(s) {
	case "serializable":
		return interp.Serializable
	case "optimized":
		return interp.Optimized
	case "evaluated":
		return interp.Evaluated
	}
	exitf("unknown level %q", s)
	return 0
}

func loadKey(path string) *wire.Key {
	if path == "" {
		return nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		exitf("reading key: %s", err)
	}
	text := strings.TrimSpace(string(buf))
	k := new(wire.Key)
	if len(buf) == wire.KeyLength {
		copy(k[:], buf)
		return k
	}
	raw, err := hex.DecodeString(text)
	if err != nil || len(raw) != wire.KeyLength {
		exitf("key file %s is neither %d raw bytes nor %d hex characters",
			path, wire.KeyLength, 2*wire.KeyLength)
	}
	copy(k[:], raw)
	return k
}

func newCatalog() *catalog.Catalog {
	cat := catalog.Default()
	if dashm != "" {
		buf, err := os.ReadFile(dashm)
		if err != nil {
			exitf("reading manifest: %s", err)
		}
		if err := cat.LoadManifest(buf); err != nil {
			exitf("loading manifest: %s", err)
		}
		logf("loaded manifest %s", dashm)
	}
	return cat
}

func newSession() *rowexpr.Session {
	s := rowexpr.NewSession(user)
	loc, err := time.LoadLocation(zone)
	if err != nil {
		exitf("loading zone %q: %s", zone, err)
	}
	s.Zone = loc
	return s
}

func readFrame(path string) rowexpr.Node {
	var buf []byte
	var err error
	if path == "-" {
		buf, err = io.ReadAll(os.Stdin)
	} else {
		buf, err = os.ReadFile(path)
	}
	if err != nil {
		exitf("reading frame: %s", err)
	}
	n, err := wire.Open(buf, loadKey(dashk))
	if err != nil {
		exitf("opening frame: %s", err)
	}
	return n
}

func writeFrame(n rowexpr.Node) {
	c, err := wire.CodecByName(codec)
	if err != nil {
		exitf("%s", err)
	}
	key := loadKey(dashk)
	if key == nil && dashsign {
		key, err = wire.RandomKey()
		if err != nil {
			exitf("generating key: %s", err)
		}
		fmt.Fprintf(os.Stderr, "signing key: %s\n", hex.EncodeToString(key[:]))
	}
	buf, err := wire.Seal(n, c, key)
	if err != nil {
		exitf("sealing frame: %s", err)
	}
	if dasho == "-" {
		if _, err := os.Stdout.Write(buf); err != nil {
			exitf("writing frame: %s", err)
		}
		return
	}
	if err := os.WriteFile(dasho, buf, 0640); err != nil {
		exitf("writing frame: %s", err)
	}
}

func printNode(n rowexpr.Node) {
	if dashr {
		fmt.Println(rowexpr.ToRedacted(n))
		return
	}
	fmt.Println(rowexpr.ToString(n))
}

func printFrame(args []string) {
	if len(args) != 1 {
		exitf("usage: print <frame>")
	}
	printNode(readFrame(args[0]))
}

func optimize(args []string) {
	if len(args) != 1 {
		exitf("usage: optimize <frame>")
	}
	n := readFrame(args[0])
	lvl := parseLevel(level)
	if lvl >= interp.Evaluated {
		exitf("optimize wants a level below evaluated; use eval")
	}
	res, err := interp.New(n, newCatalog(), newSession(), lvl).Optimize()
	if err != nil {
		exitf("optimizing: %s", err)
	}
	out := res.Node()
	logf("%s -> %s", rowexpr.ToString(n), rowexpr.ToString(out))
	writeFrame(out)
}

func eval(args []string) {
	if len(args) != 1 {
		exitf("usage: eval <frame>")
	}
	n := readFrame(args[0])
	v, err := interp.EvaluateConstant(n, newCatalog(), newSession())
	if err != nil {
		exitf("evaluating: %s", err)
	}
	printNode(rowexpr.Const(v, n.Type()))
}

// demo builds a small expression with one unresolved input and
// shows what each level folds away.
func demo() {
	cat := newCatalog()
	gt, err := cat.Lookup("$operator$greater_than",
		[]rowexpr.Type{rowexpr.Integer, rowexpr.Integer})
	if err != nil {
		exitf("resolving: %s", err)
	}
	upper, err := cat.Lookup("upper", []rowexpr.Type{rowexpr.VarcharAny})
	if err != nil {
		exitf("resolving: %s", err)
	}
	concat, err := cat.Lookup("concat",
		[]rowexpr.Type{rowexpr.VarcharAny, rowexpr.VarcharAny})
	if err != nil {
		exitf("resolving: %s", err)
	}
	expr := rowexpr.If(
		rowexpr.NewCall(gt, rowexpr.Boolean,
			rowexpr.Field(0, rowexpr.Integer),
			rowexpr.Int(3)),
		rowexpr.NewCall(concat, rowexpr.VarcharAny,
			rowexpr.Str("how"), rowexpr.Str("dy")),
		rowexpr.Coalesce(
			rowexpr.NullOf(rowexpr.VarcharAny),
			rowexpr.NewCall(upper, rowexpr.VarcharAny, rowexpr.Str("fallback"))),
	)
	fmt.Println("input:    ", rowexpr.ToString(expr))
	sess := newSession()
	for _, lvl := range []interp.Level{interp.Serializable, interp.Optimized} {
		res, err := interp.New(expr, cat, sess, lvl).Optimize()
		if err != nil {
			exitf("optimizing: %s", err)
		}
		fmt.Printf("%-10s %s\n", lvl.String()+":", rowexpr.ToString(res.Node()))
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "    %s [-k key] [-redact] print <frame>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "        decode a frame and print the expression\n")
	fmt.Fprintf(os.Stderr, "    %s [-k key] [-level l] [-codec c] [-o out] optimize <frame>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "        partially evaluate a frame and re-encode it\n")
	fmt.Fprintf(os.Stderr, "    %s [-k key] [-m manifest] eval <frame>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "        fully evaluate a constant frame and print the value\n")
	fmt.Fprintf(os.Stderr, "    %s demo\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "        fold a demo expression at each level\n")
	fmt.Fprintf(os.Stderr, "flag usage:\n")
	flag.Usage()
	os.Exit(1)
}

func main() {
	log.SetPrefix("quern: ")
	log.SetFlags(0)
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 || dashh {
		usage()
	}
	switch args[0] {
	case "print":
		printFrame(args[1:])
	case "optimize":
		optimize(args[1:])
	case "eval":
		eval(args[1:])
	case "demo":
		demo()
	default:
		exitf("unknown command %q", args[0])
	}
}
