// ABOUTME: JSON snapshot parser for heaps made of tagged words
// ABOUTME: Reads objects with their space, owner, strong and weak slots plus the root slots

package heapdump

import (
	"bytes"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/graph"
	"github.com/prateek/heapbridge/liveindex"
)

// JSONSnapshot parses snapshots of the form
//
//	{
//	  "objects": [
//	    {"addr": "0x1000", "type": "JSObject", "size": 32, "space": "default",
//	     "owner": "0x10", "ptrs": ["0x2001", 0], "weak": [12288]}
//	  ],
//	  "roots": ["0x1001"]
//	}
//
// Words are JSON numbers or strings in any base strconv accepts ("0x…",
// "0o…" or decimal) and may carry tag bits. Object addresses are stored
// canonical.
type JSONSnapshot struct{}

// CanParse checks if the preview looks like a JSON snapshot
func (p *JSONSnapshot) CanParse(r io.Reader) bool {
	buf := make([]byte, previewSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false
	}
	data := bytes.TrimSpace(buf[:n])
	if len(data) == 0 || data[0] != '{' {
		return false
	}
	// The preview may be truncated, so only the leading key is checked.
	return gjson.GetBytes(data, "objects").IsArray()
}

// Parse reads the snapshot and builds a heap
func (p *JSONSnapshot) Parse(r io.Reader) (*graph.Heap, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading snapshot")
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid json snapshot")
	}
	doc := gjson.ParseBytes(data)

	objects := doc.Get("objects")
	if !objects.IsArray() {
		return nil, errors.New(`snapshot "objects" must be an array`)
	}

	h := graph.NewHeap(nil)
	seen := make(map[address.Address]bool)
	var parseErr error
	i := 0
	objects.ForEach(func(_, value gjson.Result) bool {
		obj, err := parseObject(value)
		if err != nil {
			parseErr = errors.Wrapf(err, "object %d", i)
			return false
		}
		if seen[obj.Addr] {
			parseErr = errors.Newf("object %d: duplicate address %s", i, obj.Addr)
			return false
		}
		seen[obj.Addr] = true
		h.AddObject(obj)
		i++
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	roots, err := parseWords(doc.Get("roots"))
	if err != nil {
		return nil, errors.Wrap(err, "roots")
	}
	h.SetRoots(roots)

	return h, nil
}

func parseObject(v gjson.Result) (*graph.Object, error) {
	if !v.IsObject() {
		return nil, errors.Newf("expected an object, got %s", v.Type)
	}
	addrField := v.Get("addr")
	if !addrField.Exists() {
		return nil, errors.New("missing addr")
	}
	addr, err := parseWord(addrField)
	if err != nil {
		return nil, errors.Wrap(err, "addr")
	}
	addr = address.Canonical(addr)
	if addr.IsZero() {
		return nil, errors.New("addr must not be null")
	}

	obj := &graph.Object{
		Addr: addr,
		Type: v.Get("type").String(),
		Size: v.Get("size").Uint(),
	}
	if space := v.Get("space"); space.Exists() {
		if obj.Space, err = liveindex.ParseSpace(space.String()); err != nil {
			return nil, err
		}
	}
	if owner := v.Get("owner"); owner.Exists() {
		if obj.Owner, err = parseWord(owner); err != nil {
			return nil, errors.Wrap(err, "owner")
		}
	}
	if obj.Ptrs, err = parseWords(v.Get("ptrs")); err != nil {
		return nil, errors.Wrap(err, "ptrs")
	}
	if obj.Weak, err = parseWords(v.Get("weak")); err != nil {
		return nil, errors.Wrap(err, "weak")
	}
	return obj, nil
}

// parseWords reads an optional array of words.
func parseWords(v gjson.Result) ([]address.Address, error) {
	if !v.Exists() {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, errors.Newf("expected an array, got %s", v.Type)
	}
	var words []address.Address
	var err error
	v.ForEach(func(_, w gjson.Result) bool {
		var a address.Address
		if a, err = parseWord(w); err != nil {
			return false
		}
		words = append(words, a)
		return true
	})
	return words, err
}

// parseWord reads a single tagged word. null is the null word.
func parseWord(v gjson.Result) (address.Address, error) {
	switch v.Type {
	case gjson.Null:
		return address.Zero, nil
	case gjson.Number:
		if v.Num < 0 {
			return 0, errors.Newf("negative word %s", v.Raw)
		}
		return address.Address(v.Uint()), nil
	case gjson.String:
		n, err := strconv.ParseUint(v.Str, 0, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "word %q", v.Str)
		}
		return address.Address(n), nil
	}
	return 0, errors.Newf("word must be a number or a string, got %s", v.Raw)
}

func init() {
	Register(&JSONSnapshot{})
}
