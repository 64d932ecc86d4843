package wire

import "testing"

// feedLine feeds s and returns the (key, value) of the last matched
// field, if any.
func feedLine(p *FieldParser, s string) (string, string, bool) {
	var k, v string
	matched := false
	for i := 0; i < len(s); i++ {
		if p.Feed(s[i]) {
			k, v = p.Key(), p.Value()
			matched = true
		}
	}
	return k, v, matched
}

func TestFieldParser(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		key     string
		value   string
		matched bool
	}{
		{"simple", "X-Sleep: 100\r\n", "X-Sleep", "100", true},
		{"empty value", "X-Request: \r\n", "X-Request", "", true},
		{"no space after colon", "X-Sleep:100\r\n", "", "", false},
		{"two spaces keep the second", "X-Sleep:  100\r\n", "X-Sleep", " 100", true},
		{"bare LF line end", "X-Sleep: 100\n", "", "", false},
		{"CR inside value ends value", "A: b\rc\r\n", "", "", false},
		{"no colon", "GET / HTTP/1.1\r\n", "", "", false},
		{"colon in value", "Host: a:b\r\n", "Host", "a:b", true},
		{"leading colon", ": v\r\n", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewFieldParser()
			k, v, matched := feedLine(p, tt.in)
			if matched != tt.matched {
				t.Fatalf("matched=%v, want %v", matched, tt.matched)
			}
			if matched && (k != tt.key || v != tt.value) {
				t.Fatalf("got %q: %q, want %q: %q", k, v, tt.key, tt.value)
			}
		})
	}
}

func TestFieldParser_MalformedDiscardedSilently(t *testing.T) {
	p := NewFieldParser()
	if _, _, matched := feedLine(p, "X-Sleep:100\r\n"); matched {
		t.Fatal("malformed line must not match")
	}
	// The parser must be clean for the next line.
	k, v, matched := feedLine(p, "X-Request: 7\r\n")
	if !matched || k != "X-Request" || v != "7" {
		t.Fatalf("after malformed line: matched=%v %q: %q", matched, k, v)
	}
}

func TestFieldParser_ConsecutiveFields(t *testing.T) {
	p := NewFieldParser()
	type kv struct{ k, v string }
	var got []kv
	in := "X-Sleep: 100\r\nX-Request: 3\r\n"
	for i := 0; i < len(in); i++ {
		if p.Feed(in[i]) {
			got = append(got, kv{p.Key(), p.Value()})
		}
	}
	want := []kv{{"X-Sleep", "100"}, {"X-Request", "3"}}
	if len(got) != len(want) {
		t.Fatalf("fields=%d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("field %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFieldParser_ResetEqualsFresh(t *testing.T) {
	a := NewFieldParser()
	feedLine(a, "X-Sleep: 100\r\n")
	a.Reset()
	b := NewFieldParser()
	in := "X-Request: 9\r\n"
	for i := 0; i < len(in); i++ {
		if a.Feed(in[i]) != b.Feed(in[i]) {
			t.Fatalf("reset parser diverged from fresh at byte %d", i)
		}
	}
	if a.Key() != b.Key() || a.Value() != b.Value() {
		t.Fatalf("reset %q:%q vs fresh %q:%q", a.Key(), a.Value(), b.Key(), b.Value())
	}
}
