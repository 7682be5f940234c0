package protocol

import "testing"

func TestParseInfoResponse(t *testing.T) {
	resp := ParseResponse("7,MyBoard,Mega,12345,1.0.0;")

	info, ok := resp.(*Info)
	if !ok {
		t.Fatalf("expected identity response, got %T", resp)
	}

	assertStrings(t, info.Name, "MyBoard")
	assertStrings(t, info.BoardType, "Mega")
	assertStrings(t, info.Serial, "12345")
	assertStrings(t, info.Version, "1.0.0")
}

func TestParseInputEvent(t *testing.T) {
	resp := ParseResponse("11,GearToggle,1;")

	ev, ok := resp.(*InputEvent)
	if !ok {
		t.Fatalf("expected input event, got %T", resp)
	}

	assertStrings(t, ev.Label, "GearToggle")
	assertStrings(t, ev.Value, "1")
}

func TestParseUnknownId(t *testing.T) {
	resp := ParseResponse("42,foo,bar;")

	unknown, ok := resp.(*Unknown)
	if !ok {
		t.Fatalf("expected opaque response, got %T", resp)
	}

	if unknown.ID != 42 {
		t.Errorf("got id %d want 42", unknown.ID)
	}
	if len(unknown.Args) != 2 || unknown.Args[0] != "foo" || unknown.Args[1] != "bar" {
		t.Errorf("got args %v want [foo bar]", unknown.Args)
	}
}

func TestParseTolerance(t *testing.T) {
	// serial lines arrive newline framed, often with a carriage return
	resp := ParseResponse("  7,A,B,C,D;\r\n")
	if _, ok := resp.(*Info); !ok {
		t.Errorf("line with surrounding whitespace: expected identity response, got %T", resp)
	}

	resp = ParseResponse("7,A,B,C,D")
	if _, ok := resp.(*Info); !ok {
		t.Errorf("line without terminator: expected identity response, got %T", resp)
	}

	// too few fields for an identity: stays opaque instead of failing
	resp = ParseResponse("7,A,B;")
	if _, ok := resp.(*Unknown); !ok {
		t.Errorf("short identity line: expected opaque response, got %T", resp)
	}

	if resp := ParseResponse(""); resp != nil {
		t.Errorf("empty line: expected nil, got %v", resp)
	}
	if resp := ParseResponse("   \n"); resp != nil {
		t.Errorf("blank line: expected nil, got %v", resp)
	}
	if resp := ParseResponse("bogus;"); resp != nil {
		t.Errorf("non numeric id: expected nil, got %v", resp)
	}
}
