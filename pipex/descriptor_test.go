package pipex

import (
	"strconv"
	"testing"
	"time"
)

func TestBuildSlotTable(t *testing.T) {
	slots := BuildSlotTable(SlotConfig{
		Target:          "http://localhost:9001/",
		Total:           10,
		Timeout:         time.Second,
		TimeoutOverride: map[int]time.Duration{3: 10 * time.Second},
		SleepDefaultMS:  100,
		SleepMS:         map[int]int{0: -1, 1: 1100},
	})
	if len(slots) != 10 {
		t.Fatalf("slots=%d, want 10", len(slots))
	}
	if got := slots[0].Header.Get(HeaderSleep); got != "" {
		t.Fatalf("slot 0 X-Sleep=%q, want omitted", got)
	}
	if got := slots[1].Header.Get(HeaderSleep); got != "1100" {
		t.Fatalf("slot 1 X-Sleep=%q, want 1100", got)
	}
	if got := slots[2].Header.Get(HeaderSleep); got != "100" {
		t.Fatalf("slot 2 X-Sleep=%q, want 100", got)
	}
	for i, d := range slots {
		if d.ID != i {
			t.Fatalf("slot %d has ID %d", i, d.ID)
		}
		if got := d.Header.Get(HeaderRequest); got != strconv.Itoa(i) {
			t.Fatalf("slot %d X-Request=%q", i, got)
		}
	}
	if slots[3].Timeout != 10*time.Second {
		t.Fatalf("slot 3 timeout=%v, want 10s", slots[3].Timeout)
	}
	if slots[4].Timeout != time.Second {
		t.Fatalf("slot 4 timeout=%v, want 1s", slots[4].Timeout)
	}
}

func TestBuildRequest(t *testing.T) {
	d := &RequestDescriptor{
		ID:  1,
		URL: "http://localhost:9001/",
		Header: Header{
			"X-Request": {"1"},
			"X-Sleep":   {"1100"},
		},
	}
	key, raw, err := buildRequest(d)
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if key != "localhost:9001" {
		t.Fatalf("key=%q", key)
	}
	want := "GET / HTTP/1.1\r\n" +
		"Host: localhost:9001\r\n" +
		"Connection: keep-alive\r\n" +
		"X-Request: 1\r\n" +
		"X-Sleep: 1100\r\n" +
		"\r\n"
	if string(raw) != want {
		t.Fatalf("request bytes:\ngot:  %q\nwant: %q", raw, want)
	}
}

func TestBuildRequest_DefaultPortAndPath(t *testing.T) {
	d := &RequestDescriptor{URL: "http://example.com"}
	key, raw, err := buildRequest(d)
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if key != "example.com:80" {
		t.Fatalf("key=%q", key)
	}
	if got := string(raw[:len("GET / HTTP/1.1\r\n")]); got != "GET / HTTP/1.1\r\n" {
		t.Fatalf("request line %q", got)
	}
}

func TestBuildRequest_RejectsNonHTTP(t *testing.T) {
	if _, _, err := buildRequest(&RequestDescriptor{URL: "https://example.com/"}); err == nil {
		t.Fatal("expected error for https scheme")
	}
}
