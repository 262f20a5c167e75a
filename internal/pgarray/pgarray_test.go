package pgarray

import (
	"reflect"
	"testing"
)

func TestEncodeParseIDsRoundTrip(t *testing.T) {
	cases := [][]int64{
		nil,
		{},
		{1},
		{1, 2, 3},
		{-5, 0, 9223372036854775807},
	}
	for _, ids := range cases {
		lit := EncodeIDs(ids)
		got := ParseIDs(lit)
		if len(ids) == 0 && len(got) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, ids) {
			t.Errorf("EncodeIDs(%v) = %q, ParseIDs back = %v", ids, lit, got)
		}
	}
}

func TestParseIDsEmpty(t *testing.T) {
	if got := ParseIDs("{}"); got != nil {
		t.Errorf("ParseIDs(%q) = %v, want nil", "{}", got)
	}
}

func TestEncodeParseTagsRoundTrip(t *testing.T) {
	cases := []map[string]string{
		nil,
		{},
		{"highway": "primary"},
		{"name": "Main St", "highway": "residential", "lanes": "2"},
		{`quote"here`: "back\\slash", "tab\there": "new\nline\rcr"},
	}
	for _, tags := range cases {
		lit := EncodeTags(tags)
		got := ParseTags(lit)
		if len(tags) == 0 && len(got) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tags) {
			t.Errorf("EncodeTags(%v) = %q, ParseTags back = %v", tags, lit, got)
		}
	}
}

func TestEncodeParseTagsCopyRoundTrip(t *testing.T) {
	tags := map[string]string{
		"name":  `O'Brien's "Pub"`,
		"notes": "line one\nline two\ttabbed\\escaped",
	}
	lit := EncodeTagsCopy(tags)
	got := ParseTagsCopy(lit)
	if !reflect.DeepEqual(got, tags) {
		t.Fatalf("copy round trip mismatch: got %v, want %v (literal %q)", got, tags, lit)
	}
}

func TestEncodeTagsCopyDoublesBackslashes(t *testing.T) {
	tags := map[string]string{"k": "a\\b"}
	standalone := EncodeTags(tags)
	copyLit := EncodeTagsCopy(tags)
	if standalone == copyLit {
		t.Fatalf("copy-mode encoding should differ from standalone for backslash-containing values, got identical %q", standalone)
	}
	// ParseTagsCopy must invert EncodeTagsCopy back to the original value.
	got := ParseTagsCopy(copyLit)
	if got["k"] != "a\\b" {
		t.Fatalf("ParseTagsCopy(%q)[\"k\"] = %q, want %q", copyLit, got["k"], "a\\b")
	}
}

// TestEncodeTagsCopyBackslashByteCount pins the exact wire form rather
// than only round-tripping through our own decoder, since a matched
// encode/decode bug pair can round-trip correctly while still being
// wrong against a real `COPY ... FROM STDIN` stream: the standalone
// form escapes a literal backslash as two bytes ("\\"), and copy mode
// must double each of those two bytes (four backslash bytes), not
// produce three.
func TestEncodeTagsCopyBackslashByteCount(t *testing.T) {
	tags := map[string]string{"k": "a\\b"}
	want := `{"k","a\\\\b"}`
	if got := EncodeTagsCopy(tags); got != want {
		t.Fatalf("EncodeTagsCopy(%v) = %q, want %q", tags, got, want)
	}
}

func TestBuilderReuseDoesNotLeakPreviousContent(t *testing.T) {
	b := NewBuilder()
	first := string(b.EncodeIDs([]int64{1, 2, 3}))
	second := string(b.EncodeIDs([]int64{9}))
	if first != "{1,2,3}" {
		t.Fatalf("first = %q", first)
	}
	if second != "{9}" {
		t.Fatalf("second = %q, want {9} (builder reuse must reset, not append)", second)
	}
}

func TestEncodeIDsOrderAndDuplicatesPreserved(t *testing.T) {
	ids := []int64{5, 1, 5, 2}
	lit := EncodeIDs(ids)
	got := ParseIDs(lit)
	if !reflect.DeepEqual(got, ids) {
		t.Fatalf("array literal must preserve order/duplicates: got %v, want %v", got, ids)
	}
}
