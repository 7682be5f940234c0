package protocol

import "testing"

func assertStrings(t testing.TB, got, want string) {
	t.Helper()

	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestCommandEncoding(t *testing.T) {
	assertStrings(t, GetInfo{}.Encode(), "7;")
	assertStrings(t, SetName{Name: "Test"}.Encode(), "9,Test;")
	assertStrings(t, SetPin{Pin: 13, Value: 1}.Encode(), "3,13,1;")
	assertStrings(t, Init{}.Encode(), "1;")
	assertStrings(t, ResetBoard{}.Encode(), "5;")
	assertStrings(t, GetName{}.Encode(), "8;")
	assertStrings(t, GetVersion{}.Encode(), "10;")
	assertStrings(t, Set7Segment{Module: 1, Index: 0, Value: "250"}.Encode(), "15,1,0,250;")
	assertStrings(t, SetLCD{Display: 0, Line: 1, Text: "ALT 1200"}.Encode(), "16,0,1,ALT 1200;")
	assertStrings(t, SetStepper{Motor: 2, Steps: -150}.Encode(), "17,2,-150;")
	assertStrings(t, SetRGB{Led: 1, R: 255, G: 128, B: 0}.Encode(), "18,1,255,128,0;")
}

func TestCommandRoundTrip(t *testing.T) {
	commands := []struct {
		cmd      Command
		wantArgs []string
	}{
		{SetPin{Pin: 13, Value: 1}, []string{"13", "1"}},
		{Set7Segment{Module: 2, Index: 1, Value: "88"}, []string{"2", "1", "88"}},
		{SetLCD{Display: 0, Line: 2, Text: "HDG 270"}, []string{"0", "2", "HDG 270"}},
		{SetStepper{Motor: 1, Steps: -20}, []string{"1", "-20"}},
		{SetRGB{Led: 0, R: 10, G: 20, B: 30}, []string{"0", "10", "20", "30"}},
		{SetName{Name: "Panel"}, []string{"Panel"}},
	}

	for _, c := range commands {
		resp := ParseResponse(c.cmd.Encode())
		unknown, ok := resp.(*Unknown)
		if !ok {
			t.Errorf("parsing %q: expected opaque response, got %T", c.cmd.Encode(), resp)
			continue
		}
		if unknown.ID != c.cmd.ID() {
			t.Errorf("parsing %q: got id %d want %d", c.cmd.Encode(), unknown.ID, c.cmd.ID())
		}
		if len(unknown.Args) != len(c.wantArgs) {
			t.Errorf("parsing %q: got %d args want %d", c.cmd.Encode(), len(unknown.Args), len(c.wantArgs))
			continue
		}
		for i, arg := range unknown.Args {
			if arg != c.wantArgs[i] {
				t.Errorf("parsing %q: arg [%d] got %q want %q", c.cmd.Encode(), i, arg, c.wantArgs[i])
			}
		}
	}
}
