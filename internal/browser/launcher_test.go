package browser

import (
	"context"
	"net"
	"strings"
	"testing"
)

func TestArgsIncludeExtensionsAndDevtools(t *testing.T) {
	l := NewLauncher(Config{
		CDPAddress:   "127.0.0.1",
		CDPPort:      9220,
		ProfileDir:   "/tmp/profile",
		Extensions:   []string{"/ext/har", "/ext/other"},
		OpenDevtools: true,
	})
	args := l.args()
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--remote-debugging-port=9220",
		"--user-data-dir=/tmp/profile",
		"--load-extension=/ext/har,/ext/other",
		"--auto-open-devtools-for-tabs",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args() = %v; missing %q", args, want)
		}
	}
	if strings.Contains(joined, "--headless") {
		t.Fatalf("args() = %v; headless not requested", args)
	}
	if args[len(args)-1] != "about:blank" {
		t.Fatalf("last arg = %q; want start URL", args[len(args)-1])
	}
}

func TestLaunchSkipsWhenPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: ln.Addr().(*net.TCPAddr).Port})
	if err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if l.Running() {
		t.Fatalf("Running() = true; want no browser spawned")
	}
	l.Stop()
}
