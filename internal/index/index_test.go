package index

import "testing"

func TestNewSortsDescending(t *testing.T) {
	x := New([]string{"a", "c", "b"})
	ids := x.Ids()
	if ids[0] != "c" || ids[1] != "b" || ids[2] != "a" {
		t.Fatalf("expected descending order, got %v", ids)
	}
}

func TestPrependAddsNewest(t *testing.T) {
	x := New([]string{"a", "b"})
	x.Prepend("z")
	if x.Ids()[0] != "z" {
		t.Fatalf("expected z at front, got %v", x.Ids())
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	x := New([]string{"a", "b", "c"})
	x.Delete("b")
	for _, id := range x.Ids() {
		if id == "b" {
			t.Fatal("expected b to be removed")
		}
	}
	if x.Len() != 2 {
		t.Fatalf("expected len 2, got %d", x.Len())
	}
}

func TestPositionReportsGeneration(t *testing.T) {
	x := New([]string{"a", "c", "b"})
	if pos := x.Position("c"); pos != 0 {
		t.Fatalf("expected newest at position 0, got %d", pos)
	}
	if pos := x.Position("a"); pos != 2 {
		t.Fatalf("expected oldest at position 2, got %d", pos)
	}
	if pos := x.Position("missing"); pos != -1 {
		t.Fatalf("expected -1 for missing id, got %d", pos)
	}
}

func TestReplaceKeepsPosition(t *testing.T) {
	x := New([]string{"a", "c", "b"})
	x.Replace("a", "z")
	ids := x.Ids()
	if ids[2] != "z" {
		t.Fatalf("expected replacement at the original oldest position, got %v", ids)
	}

	x.Replace("missing", "w")
	for _, id := range x.Ids() {
		if id == "w" {
			t.Fatal("expected Replace to be a no-op for an absent id")
		}
	}
}

func TestOldestAscending(t *testing.T) {
	x := New([]string{"b", "a", "c"})
	oldest := x.Oldest()
	if oldest[0] != "a" || oldest[2] != "c" {
		t.Fatalf("expected ascending order, got %v", oldest)
	}
}
