package openflite

import "testing"

func TestParseProgress(t *testing.T) {
	cases := []struct {
		line  string
		want  int
		found bool
	}{
		{"Writing | ################################################## | 100% 2.45s", 100, true},
		{"Reading | ###                                                | 6% 0.15s", 6, true},
		{"Writing | #####                                              | 10% 0.33s  Reading | | 45% 0.01s", 45, true},
		{"avrdude: verifying ...", 0, false},
		{"strange % line", 0, false},
		{"", 0, false},
	}

	for _, tc := range cases {
		got, found := parseProgress(tc.line)
		if found != tc.found || got != tc.want {
			t.Errorf("parseProgress(%q) = %d, %v; want %d, %v", tc.line, got, found, tc.want, tc.found)
		}
	}
}

func TestBoardModelLookup(t *testing.T) {
	model, err := BoardModelFor("Mega")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if model.Part != "atmega2560" || model.Programmer != "wiring" || model.BaudRate != 115200 {
		t.Errorf("unexpected mega parameters: %+v", model)
	}

	if _, err := BoardModelFor("esp32"); err == nil {
		t.Error("expected an error for an unsupported board")
	}
}
