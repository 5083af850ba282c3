package cluster

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestAssign_FirstMatchWins(t *testing.T) {
	t.Parallel()

	a := NewAssigner(DefaultTable())
	if got := a.Assign([]string{"Ai", "Football"}); got != "Tech" {
		t.Fatalf("unexpected cluster: got %q want %q", got, "Tech")
	}
	if got := a.Assign([]string{"Football", "Ai"}); got != "Sports" {
		t.Fatalf("unexpected cluster: got %q want %q", got, "Sports")
	}
}

func TestAssign_NormalizesTagsAndFallsBack(t *testing.T) {
	t.Parallel()

	a := NewAssigner(nil)
	if got := a.Assign([]string{"Unknown", "Machine Learning"}); got != "Tech" {
		t.Fatalf("unexpected cluster: got %q want %q", got, "Tech")
	}
	if got := a.Assign([]string{"Knitting"}); got != Other {
		t.Fatalf("unexpected cluster: got %q want %q", got, Other)
	}
	if got := a.Assign(nil); got != Other {
		t.Fatalf("unexpected cluster for no tags: got %q want %q", got, Other)
	}
}

func TestDefaultTable_CoversCategories(t *testing.T) {
	t.Parallel()

	want := []string{"Arts", "Community", "Education", "Health", "Online", Other, "Sports", "Startup", "Tech"}
	if got := DefaultTable().Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected cluster names: got %v want %v", got, want)
	}
	if size := len(DefaultTable()); size < 30 {
		t.Fatalf("expected at least 30 tags in default table, got %d", size)
	}
}

func TestLoadTable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clusters.json")
	if err := os.WriteFile(path, []byte(`{"Music":["Jazz","Rock"],"Outdoors":["Hiking"]}`), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	a := NewAssigner(table)
	if got := a.Assign([]string{"ai", "jazz"}); got != "Music" {
		t.Fatalf("unexpected cluster: got %q want %q", got, "Music")
	}

	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write empty table: %v", err)
	}
	if _, err := LoadTable(path); err == nil {
		t.Fatalf("expected empty table to be rejected")
	}
}
