package middle

import "testing"

func TestCopyEscapePassesThroughPlainText(t *testing.T) {
	if got := copyEscape("hello"); got != "hello" {
		t.Fatalf("copyEscape(%q) = %q, want unchanged", "hello", got)
	}
}

func TestCopyEscapeEscapesSpecialBytes(t *testing.T) {
	in := "a\tb\nc\rd\\e"
	want := `a\tb\nc\rd\\e`
	if got := copyEscape(in); got != want {
		t.Fatalf("copyEscape(%q) = %q, want %q", in, got, want)
	}
}

func TestFormatCopyIntAndFloat(t *testing.T) {
	if got := formatCopyInt(-42); got != "-42" {
		t.Fatalf("formatCopyInt(-42) = %q", got)
	}
	if got := formatCopyFloat(51.5074); got != "51.5074" {
		t.Fatalf("formatCopyFloat(51.5074) = %q", got)
	}
	if got := formatCopyFloat(-0.1278); got != "-0.1278" {
		t.Fatalf("formatCopyFloat(-0.1278) = %q", got)
	}
}
