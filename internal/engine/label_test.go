package engine

import "testing"

func TestParseLabel(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    Label
		wantErr bool
	}{
		{name: "initial", raw: "1.0", want: Label{Major: 1, Minor: 0}},
		{name: "multi digit", raw: "12.34", want: Label{Major: 12, Minor: 34}},
		{name: "missing dot", raw: "3", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "trailing garbage", raw: "1.2a", wantErr: true},
		{name: "negative minor", raw: "1.-2", wantErr: true},
		{name: "empty minor", raw: "1.", wantErr: true},
		{name: "word", raw: "draft", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLabel(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseLabel(%q) = %v, want error", tc.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLabel(%q): %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("ParseLabel(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestLabelNext(t *testing.T) {
	label := FirstLabel()
	for i, want := range []string{"1.1", "1.2", "1.3"} {
		label = label.Next()
		if label.String() != want {
			t.Fatalf("step %d: got %s, want %s", i, label, want)
		}
	}
}

func TestLabelRoundTrip(t *testing.T) {
	label := Label{Major: 7, Minor: 19}
	parsed, err := ParseLabel(label.String())
	if err != nil {
		t.Fatalf("ParseLabel(%q): %v", label.String(), err)
	}
	if parsed != label {
		t.Fatalf("round trip changed label: %v != %v", parsed, label)
	}
}
