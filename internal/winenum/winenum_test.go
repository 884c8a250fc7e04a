package winenum

import "testing"

var sample = []Window{
	{Handle: 0x10, Title: "Untitled - Notepad", PID: 100, Process: "notepad.exe"},
	{Handle: 0x20, Title: "Build Log - Notepad", PID: 100, Process: "notepad.exe"},
	{Handle: 0x30, Title: "Release Dashboard", PID: 200, Process: "msedge.exe"},
	{Handle: 0x40, Title: "Task Manager", PID: 300, Process: "taskmgr.exe"},
}

func TestFilterEmptyKeepsAll(t *testing.T) {
	if got := (Filter{}).Apply(sample); len(got) != len(sample) {
		t.Fatalf("empty filter kept %d of %d", len(got), len(sample))
	}
}

func TestFilterTitleContains(t *testing.T) {
	got := Filter{TitleContains: "notepad"}.Apply(sample)
	if len(got) != 2 || got[0].Handle != 0x10 || got[1].Handle != 0x20 {
		t.Fatalf("title filter = %+v", got)
	}
}

func TestFilterProcessExact(t *testing.T) {
	got := Filter{Process: "MSEDGE.EXE"}.Apply(sample)
	if len(got) != 1 || got[0].Handle != 0x30 {
		t.Fatalf("process filter = %+v", got)
	}
}

func TestFilterCombined(t *testing.T) {
	got := Filter{TitleContains: "build", Process: "notepad.exe"}.Apply(sample)
	if len(got) != 1 || got[0].Handle != 0x20 {
		t.Fatalf("combined filter = %+v", got)
	}
	if got := (Filter{TitleContains: "build", Process: "msedge.exe"}).Apply(sample); len(got) != 0 {
		t.Fatalf("conflicting filter = %+v", got)
	}
}
