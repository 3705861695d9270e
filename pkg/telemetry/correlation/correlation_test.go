package correlation

import (
	"context"
	"strings"
	"testing"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "01HZZZ")
	ctx, cid := EnsureCorrelationID(ctx)
	if cid != "01HZZZ" {
		t.Fatalf("expected existing id, got %q", cid)
	}
	if ExtractCorrelationID(ctx) != "01HZZZ" {
		t.Fatalf("expected id on context")
	}
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	if len(cid) != 26 {
		t.Fatalf("expected ulid, got %q", cid)
	}
	if ExtractCorrelationID(ctx) != cid {
		t.Fatalf("expected generated id on context")
	}
}

func TestFromHeaderRejectsUnsafeValues(t *testing.T) {
	cases := []string{"", "  ", "a b", "id\r\nX-Injected: 1", strings.Repeat("a", 65)}
	for _, header := range cases {
		_, cid := FromHeader(context.Background(), header)
		if cid == strings.TrimSpace(header) || len(cid) != 26 {
			t.Fatalf("header %q: expected a fresh ulid, got %q", header, cid)
		}
	}

	_, cid := FromHeader(context.Background(), " 3f1c2e9a-7b1d-4c55-9f0e-2a9d3b6c1e11 ")
	if cid != "3f1c2e9a-7b1d-4c55-9f0e-2a9d3b6c1e11" {
		t.Fatalf("expected uuid to be kept, got %q", cid)
	}
}
