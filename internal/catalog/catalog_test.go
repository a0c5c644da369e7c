package catalog

import "testing"

func TestListOrderAndIDs(t *testing.T) {
	list := List()
	if len(list) != 7 {
		t.Fatalf("expected 7 catalog entries, got %d", len(list))
	}
	for i, c := range list {
		if c.ID != i {
			t.Errorf("entry %d has id %d, want %d", i, c.ID, i)
		}
	}
}

func TestDescribePodEntry(t *testing.T) {
	c, ok := Lookup(4)
	if !ok {
		t.Fatal("expected command id 4 to exist")
	}
	if c.Label != "describe pod" {
		t.Errorf("label = %q", c.Label)
	}
	if c.Type != TypeK8sDescribePod {
		t.Errorf("type = %v, want TypeK8sDescribePod", c.Type)
	}
	if c.Format != FormatText {
		t.Errorf("format = %v, want FormatText", c.Format)
	}
	got := c.Placeholders()
	want := []string{"ns", "pod"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("placeholders = %v, want %v", got, want)
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, ok := Lookup(99); ok {
		t.Error("expected lookup of unknown id to fail")
	}
}

func TestMaxPlaceholders(t *testing.T) {
	if got := MaxPlaceholders(); got != 2 {
		t.Errorf("MaxPlaceholders() = %d, want 2", got)
	}
}
