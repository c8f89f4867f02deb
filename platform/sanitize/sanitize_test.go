package sanitize

import "testing"

func TestText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Acme Corp", "Acme Corp"},
		{"<b>Acme</b>  Corp\n", "Acme Corp"},
		{"Smith &amp; Sons", "Smith & Sons"},
		{"&lt;script&gt;alert(1)&lt;/script&gt;Globex", "alert(1)Globex"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Text(tc.in); got != tc.want {
			t.Fatalf("Text(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}
