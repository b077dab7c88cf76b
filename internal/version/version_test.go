package version

import "testing"

func TestGet(t *testing.T) {
	oldV, oldSHA, oldBuild := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldBuild })

	Version, GitSHA, BuildTime = "1.2.0", "abc123", "2025-05-04T10:00:00Z"
	got := Get()
	want := Info{Version: "1.2.0", GitSHA: "abc123", BuildTime: "2025-05-04T10:00:00Z"}
	if got != want {
		t.Fatalf("Get() = %+v, want %+v", got, want)
	}
	if s := got.String(); s != "1.2.0 (abc123, built 2025-05-04T10:00:00Z)" {
		t.Errorf("String() = %q", s)
	}
}
