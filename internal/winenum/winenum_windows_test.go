//go:build windows

package winenum

import "testing"

// The runtime caps registered callbacks at roughly 2000 and never frees
// them, so enumeration must reuse a single registered thunk no matter how
// many times it runs.
func TestListWindowsReusesEnumCallback(t *testing.T) {
	if testing.Short() {
		t.Skip("repeated full enumerations are slow")
	}
	for i := 0; i < 2500; i++ {
		if _, err := listWindows(); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
}

func TestListWindowsReturnsTitledWindowsOnly(t *testing.T) {
	wins, err := listWindows()
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range wins {
		if w.Title == "" {
			t.Fatalf("untitled window %#x in results", w.Handle)
		}
		if w.Handle == 0 {
			t.Fatal("zero handle in results")
		}
	}
}
