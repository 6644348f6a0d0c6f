package log

import "testing"

func TestLog_UsableBeforeInit(t *testing.T) {
	// the fallback logger must accept calls before InitLog without panicking,
	// with and without format arguments
	Info("plain message")
	Info("formatted %d %s", 1, "arg")
	Warn("warn %v", "x")
	Error("error %v", "x")
	Debug("debug %v", "x")
}

func TestSetLevel_UnknownFallsBackToInfo(t *testing.T) {
	SetLevel("debug")
	SetLevel("warn")
	SetLevel("error")
	SetLevel("no-such-level")
	SetLevel("info")
}
