package resolver

import (
	"os"
	"testing"

	"github.com/sammck-go/tunbridge/internal/logging"
)

func TestLoadServersFallsBackWithoutResolvConf(t *testing.T) {
	servers := loadServersFrom("/nonexistent/resolv.conf")
	if len(servers) == 0 {
		t.Fatal("expected at least the fallback server")
	}
	if servers[len(servers)-1] != fallbackServer {
		t.Fatalf("last server = %q, want fallback %q", servers[len(servers)-1], fallbackServer)
	}
}

func TestLoadServersUsesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/resolv.conf"
	if err := os.WriteFile(path, []byte("nameserver 198.51.100.1\n"), 0o644); err != nil {
		t.Fatalf("write resolv.conf: %v", err)
	}
	servers := loadServersFrom(path)
	if len(servers) < 2 {
		t.Fatalf("servers = %v, want configured server plus fallback", servers)
	}
	if servers[0] != "198.51.100.1:53" {
		t.Fatalf("servers[0] = %q, want 198.51.100.1:53", servers[0])
	}
}

func TestWorkerSubmitAndClose(t *testing.T) {
	log := logging.New("test", logging.LevelError, nil)
	w := NewWorker(log, 4)
	defer w.Close()

	// Submitting then immediately closing must not block or panic, even if
	// the query never finishes resolving (no network in the test sandbox).
	w.Submit(Query{ChannID: 1, Magic: 1, Domain: "example.invalid", Port: 80})
}
