package digest

import (
	"strings"
	"testing"
)

func TestFromBytesAndParseStringRoundTrip(t *testing.T) {
	d := FromBytes([]byte("hello"), SHA256, SourceFile)
	s := d.String()
	parsed, err := ParseString(s)
	if err != nil {
		t.Fatalf("ParseString(%q): %v", s, err)
	}
	if !parsed.Equal(d) {
		t.Fatalf("round trip mismatch: %+v != %+v", parsed, d)
	}
}

func TestParseStringRawHexDefaultsSHA1Primary(t *testing.T) {
	d, err := ParseString("aabbccddeeff00112233445566778899aabbccdd")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if d.Algorithm != SHA1 || d.Source != SourcePrimary {
		t.Fatalf("got %+v, want SHA1/primary", d)
	}
}

func TestFromReaderMatchesFromBytes(t *testing.T) {
	b := []byte("digest fidelity test payload")
	want := FromBytes(b, SHA256, SourceFile)
	got, err := FromReader(strings.NewReader(string(b)), SHA256, SourceFile)
	if err != nil {
		t.Fatalf("FromReader: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("FromReader = %+v, want %+v", got, want)
	}
}

func TestParseStringRejectsGarbage(t *testing.T) {
	if _, err := ParseString("not a digest"); err == nil {
		t.Fatal("expected error")
	}
}
