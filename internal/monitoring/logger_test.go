package monitoring

import (
	"fmt"
	"testing"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("mode %s started", "manual")
	if len(*lines) != 1 || (*lines)[0] != "mode manual started" {
		t.Fatalf("lines = %q", *lines)
	}

	SetLogger(nil)
	Logf("dropped")
	if len(*lines) != 1 {
		t.Errorf("nil logger should mute output, got %q", *lines)
	}
}

func TestLogf_DefaultIsSet(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
}

func TestComponent_PrefixesAndFollowsSetLogger(t *testing.T) {
	logf := Component("serial")
	lines := capture(t)

	logf("opened %s", "/dev/ttyUSB0")
	if len(*lines) != 1 || (*lines)[0] != "[serial] opened /dev/ttyUSB0" {
		t.Fatalf("lines = %q", *lines)
	}

	SetLogger(nil)
	logf("muted")
	if len(*lines) != 1 {
		t.Errorf("muted logger still forwarded %q", *lines)
	}
}
