package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tunbridge.conf")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadLocalFront(t *testing.T) {
	path := writeTemp(t, "mode\tLOCAL_FRONT\n"+
		"local_ip\t127.0.0.1\n"+
		"local_port\t1080\n"+
		"remote_ip\t203.0.113.5\n"+
		"remote_port\t9000\n"+
		"username\talice\n"+
		"password\tswordfish\n")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Mode != LocalFront {
		t.Fatalf("Mode = %v, want LocalFront", c.Mode)
	}
	if c.LocalPort != 1080 || c.RemotePort != 9000 {
		t.Fatalf("ports = %d/%d", c.LocalPort, c.RemotePort)
	}
	if c.Cipher != "chacha20" {
		t.Fatalf("Cipher default = %q", c.Cipher)
	}
}

func TestLoadMissingRemoteForLocalFront(t *testing.T) {
	path := writeTemp(t, "mode\tLOCAL_FRONT\nlocal_port\t1080\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing remote_ip/remote_port")
	}
}

func TestLoadInvalidMode(t *testing.T) {
	path := writeTemp(t, "mode\tBOGUS\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestLoadCredentialTooLong(t *testing.T) {
	path := writeTemp(t, "mode\tREMOTE_STANDALONE\nusername\ttoolongusername12345\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for oversized username")
	}
}
