package textx

import "testing"

func TestSanitizeText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  hello  ", "hello"},
		{"line1\nline2", "line1\nline2"},
		{"bad\x00byte", "badbyte"},
		{"tab\tkept", "tab\tkept"},
		{"", ""},
	}
	for _, c := range cases {
		if got := SanitizeText(c.in); got != c.want {
			t.Errorf("SanitizeText(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFullName(t *testing.T) {
	cases := []struct {
		parts []string
		want  string
	}{
		{[]string{"Ada", "Lovelace"}, "Ada Lovelace"},
		{[]string{"Ada", ""}, "Ada"},
		{[]string{"", "Lovelace"}, "Lovelace"},
		{[]string{"  ", "\t"}, ""},
		{[]string{"Ada ", " Lovelace"}, "Ada Lovelace"},
		{nil, ""},
	}
	for _, c := range cases {
		if got := FullName(c.parts...); got != c.want {
			t.Errorf("FullName(%v) = %q, want %q", c.parts, got, c.want)
		}
	}
}
