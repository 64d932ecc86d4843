package pipex

import "testing"

func TestHeaderCanonicalization(t *testing.T) {
	h := Header{}
	h.Set("x-sleep", "100")
	if got := h.Get("X-Sleep"); got != "100" {
		t.Fatalf("Get(X-Sleep)=%q", got)
	}
	h.Add("X-SLEEP", "200")
	if got := h["X-Sleep"]; len(got) != 2 || got[1] != "200" {
		t.Fatalf("values=%v", got)
	}
	h.Del("X-sleep")
	if got := h.Get("X-Sleep"); got != "" {
		t.Fatalf("Get after Del=%q", got)
	}
}

func TestHeaderGetMissing(t *testing.T) {
	var h Header
	if got := h.Get("X-Request"); got != "" {
		t.Fatalf("Get on nil header=%q", got)
	}
}
