// ABOUTME: Tests for the JSON snapshot parser
// ABOUTME: Validates word formats, spaces, slots and error handling

package heapdump

import (
	"reflect"
	"strings"
	"testing"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/liveindex"
)

func TestJSONParse(t *testing.T) {
	jsonData := `{
		"objects": [
			{"addr": "0x1000", "type": "JSObject", "size": 32, "owner": "0x10",
			 "ptrs": ["0x2001", 0, null], "weak": [12288]},
			{"addr": 8193, "type": "FixedArray", "size": 48, "space": "los"},
			{"addr": "0x3000", "type": "Map", "size": 80, "space": 4}
		],
		"roots": ["0x1001", 0]
	}`

	parser := &JSONSnapshot{}
	h, err := parser.Parse(strings.NewReader(jsonData))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if h.NumObjects() != 3 {
		t.Errorf("Expected 3 objects, got %d", h.NumObjects())
	}

	obj := h.GetObject(0x1000)
	if obj == nil {
		t.Fatal("Object 0x1000 not found")
	}
	if obj.Type != "JSObject" || obj.Size != 32 || obj.Owner != 0x10 {
		t.Errorf("Unexpected object %+v", obj)
	}
	if obj.Space != liveindex.SpaceDefault {
		t.Errorf("Expected default space, got %s", obj.Space)
	}
	if want := []address.Address{0x2001, 0, 0}; !reflect.DeepEqual(obj.Ptrs, want) {
		t.Errorf("Expected ptrs %v, got %v", want, obj.Ptrs)
	}
	if want := []address.Address{0x3000}; !reflect.DeepEqual(obj.Weak, want) {
		t.Errorf("Expected weak %v, got %v", want, obj.Weak)
	}

	// Tagged object addresses are stored canonical.
	if obj := h.GetObject(0x2000); obj == nil || obj.Addr != 0x2000 || obj.Space != liveindex.SpaceLargeObject {
		t.Errorf("Expected canonical los object at 0x2000, got %+v", obj)
	}
	if obj := h.GetObject(0x3000); obj == nil || obj.Space != liveindex.SpaceReadOnly {
		t.Errorf("Expected read-only object at 0x3000, got %+v", obj)
	}

	if roots := h.Roots(); !reflect.DeepEqual(roots, []address.Address{0x1001, 0}) {
		t.Errorf("Expected roots [0x1001 0x0], got %v", roots)
	}
}

func TestJSONCanParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{
			name:    "Valid snapshot",
			content: `{"objects": [], "roots": []}`,
			want:    true,
		},
		{
			name:    "Leading whitespace",
			content: "\n  {\"objects\": [{\"addr\": 16}]}",
			want:    true,
		},
		{
			name:    "Truncated preview",
			content: `{"objects": [{"addr": 16, "ptrs": [32, 48`,
			want:    true,
		},
		{
			name:    "Non-JSON",
			content: `not json at all`,
			want:    false,
		},
		{
			name:    "JSON without objects key",
			content: `{"data": []}`,
			want:    false,
		},
		{
			name:    "Objects is not an array",
			content: `{"objects": 3}`,
			want:    false,
		},
		{
			name:    "Empty",
			content: ``,
			want:    false,
		},
	}

	parser := &JSONSnapshot{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parser.CanParse(strings.NewReader(tt.content))
			if got != tt.want {
				t.Errorf("CanParse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMalformedJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"Invalid JSON syntax", `{"objects": [}`},
		{"Missing addr", `{"objects": [{"type": "test"}]}`},
		{"Null addr", `{"objects": [{"addr": 2}]}`},
		{"Duplicate addr", `{"objects": [{"addr": 16}, {"addr": 17}]}`},
		{"Wrong type for objects", `{"objects": "not an array", "roots": []}`},
		{"Object is not an object", `{"objects": [16]}`},
		{"Bad word string", `{"objects": [{"addr": "0xzz"}]}`},
		{"Negative word", `{"objects": [{"addr": 16, "ptrs": [-8]}]}`},
		{"Boolean word", `{"objects": [], "roots": [true]}`},
		{"Roots not an array", `{"objects": [], "roots": 16}`},
		{"Unknown space", `{"objects": [{"addr": 16, "space": "nursery"}]}`},
	}

	parser := &JSONSnapshot{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parser.Parse(strings.NewReader(tt.content)); err == nil {
				t.Error("Expected error for malformed snapshot")
			}
		})
	}
}
