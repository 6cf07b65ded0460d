package fmri

import "testing"

func TestParseForms(t *testing.T) {
	cases := []struct {
		in        string
		publisher string
		stem      string
		version   string
	}{
		{"pkg://openindiana.org/web/server/nginx@1.18.0,5.11-2020.0.1.0:20200421T195136Z",
			"openindiana.org", "web/server/nginx", "1.18.0,5.11-2020.0.1.0:20200421T195136Z"},
		{"pkg:/pkg/alpha@1.0", "", "pkg/alpha", "1.0"},
		{"pkg/alpha@1.0", "", "pkg/alpha", "1.0"},
		{"pkg/alpha", "", "pkg/alpha", ""},
	}

	for _, c := range cases {
		f, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if f.Publisher != c.publisher {
			t.Errorf("Parse(%q).Publisher = %q, want %q", c.in, f.Publisher, c.publisher)
		}
		if f.Stem != c.stem {
			t.Errorf("Parse(%q).Stem = %q, want %q", c.in, f.Stem, c.stem)
		}
		gotVersion := ""
		if f.Version != nil {
			gotVersion = f.Version.String()
		}
		if gotVersion != c.version {
			t.Errorf("Parse(%q).Version = %q, want %q", c.in, gotVersion, c.version)
		}
	}
}

func TestParseRejectsEmptyStem(t *testing.T) {
	if _, err := Parse("pkg://pub/@1.0"); err == nil {
		t.Fatal("expected error for empty stem")
	}
}

func TestCompareVersionsReleaseDescending(t *testing.T) {
	v1, _ := ParseVersion("1.0")
	v2, _ := ParseVersion("1.1")
	if CompareVersions(v2, v1) <= 0 {
		t.Fatalf("expected 1.1 > 1.0")
	}
}

func TestCompareVersionsTimestampTiebreak(t *testing.T) {
	older, _ := ParseVersion("1.0:20200101T000000Z")
	newer, _ := ParseVersion("1.0:20200201T000000Z")
	if CompareVersions(newer, older) <= 0 {
		t.Fatalf("expected newer timestamp to sort greater")
	}
}

func TestReleaseToSemverPadsMissing(t *testing.T) {
	got := ReleaseToSemver("5.11")
	want := []int{5, 11, 0}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("ReleaseToSemver(5.11) = %v, want %v", got, want)
	}
}
