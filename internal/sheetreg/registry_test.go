package sheetreg

import "testing"

func TestInternIsStable(t *testing.T) {
	r := New()
	a := r.Intern("Sheet1")
	b := r.Intern("Sheet1")
	if a != b {
		t.Fatalf("interning twice gave %d and %d", a, b)
	}
	if a == 0 {
		t.Fatal("id 0 must stay reserved")
	}
}

func TestDefineAndUndefine(t *testing.T) {
	r := New()
	id := r.Intern("Later") // referenced before defined
	if r.IsDefined(id) {
		t.Fatal("interned sheet must not count as defined")
	}
	if defined := r.Define("Later"); defined != id {
		t.Fatalf("Define reused a different id: %d vs %d", defined, id)
	}
	if !r.IsDefined(id) {
		t.Fatal("Define did not mark the sheet defined")
	}
	r.Undefine(id)
	if r.IsDefined(id) {
		t.Fatal("Undefine had no effect")
	}
	// The binding survives so dangling references keep resolving.
	if got, ok := r.Lookup("Later"); !ok || got != id {
		t.Fatal("Undefine dropped the name binding")
	}
}

func TestRename(t *testing.T) {
	r := New()
	id := r.Define("Old")
	renamed, err := r.Rename("Old", "New")
	if err != nil || renamed != id {
		t.Fatalf("Rename = (%d, %v)", renamed, err)
	}
	if _, ok := r.Lookup("Old"); ok {
		t.Error("old name still bound")
	}
	if got, ok := r.Lookup("New"); !ok || got != id {
		t.Error("new name not bound")
	}
	if name, _ := r.Name(id); name != "New" {
		t.Errorf("Name(id) = %q", name)
	}
}

func TestRenameConflicts(t *testing.T) {
	r := New()
	r.Define("A")
	r.Define("B")
	if _, err := r.Rename("A", "B"); err == nil {
		t.Error("rename onto an existing name must fail")
	}
	if _, err := r.Rename("Missing", "C"); err == nil {
		t.Error("rename of unknown sheet must fail")
	}
}

func TestListSheetsCreationOrder(t *testing.T) {
	r := New()
	r.Define("Zebra")
	r.Define("Alpha")
	r.Define("Mango")
	got := r.ListSheets()
	want := []string{"Zebra", "Alpha", "Mango"}
	if len(got) != len(want) {
		t.Fatalf("ListSheets = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListSheets = %v, want %v", got, want)
		}
	}
}

func TestRefCountEviction(t *testing.T) {
	r := New()
	id := r.Intern("Ghost")
	if evictable := r.RemoveRef(id); !evictable {
		t.Fatal("last ref on an undefined sheet should be evictable")
	}
	r.Evict(id)
	if _, ok := r.Lookup("Ghost"); ok {
		t.Fatal("Evict left the binding")
	}
}
