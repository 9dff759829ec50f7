package ftpclient

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tis24dev/vzsave/internal/ftpclient/ftptest"
)

func newTestServer(t *testing.T) *ftptest.Server {
	t.Helper()
	srv, err := ftptest.NewServer("backup", "secret")
	if err != nil {
		t.Fatalf("start ftp server: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func dialAndLogin(t *testing.T, srv *ftptest.Server) *Conn {
	t.Helper()
	c, err := Dial(context.Background(), srv.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Login("backup", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := c.Binary(); err != nil {
		t.Fatalf("Binary: %v", err)
	}
	return c
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv := newTestServer(t)
	c, err := Dial(context.Background(), srv.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	err = c.Login("backup", "wrong")
	if err == nil {
		t.Fatal("expected login failure")
	}
	if !IsCode(err, StatusNotLoggedIn) {
		t.Fatalf("expected 530, got %v", err)
	}
}

func TestListReturnsRawLines(t *testing.T) {
	srv := newTestServer(t)
	srv.ExtraListLines = []string{"total 2"}
	mod := time.Now().Add(-2 * time.Hour)
	srv.AddFile("/backups/101/a.vma.lzo", []byte("aaaa"), mod)
	srv.AddFile("/backups/101/b.vma.lzo", []byte("bb"), mod)

	c := dialAndLogin(t, srv)
	lines, err := c.List("/backups/101")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	// ".", "..", two files and the trailer
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %q", len(lines), lines)
	}
	if !strings.HasSuffix(lines[2], " a.vma.lzo") || !strings.HasPrefix(lines[2], "-rw-r--r--") {
		t.Errorf("unexpected line %q", lines[2])
	}
	if lines[4] != "total 2" {
		t.Errorf("trailer = %q", lines[4])
	}
	for _, l := range lines {
		if strings.HasSuffix(l, "\r") {
			t.Errorf("line %q keeps carriage return", l)
		}
	}
}

func TestListMissingDirectory(t *testing.T) {
	srv := newTestServer(t)
	c := dialAndLogin(t, srv)

	if _, err := c.List("/nope"); !IsCode(err, StatusFileUnavailable) {
		t.Fatalf("expected 550, got %v", err)
	}
	// session stays usable after a refused transfer
	if err := c.MakeDir("/nope"); err != nil {
		t.Fatalf("MakeDir after failed list: %v", err)
	}
	if _, err := c.List("/nope"); err != nil {
		t.Fatalf("List after MakeDir: %v", err)
	}
}

func TestStorDeleteAndPASVFallback(t *testing.T) {
	srv := newTestServer(t)
	srv.DisableEPSV = true
	srv.AddDir("/dump", time.Now())
	srv.AddFile("/dump/old.vma", []byte("x"), time.Now().Add(-time.Hour))

	c := dialAndLogin(t, srv)

	payload := bytes.Repeat([]byte("vzdump"), 1024)
	n, err := c.Stor("/dump/new.vma", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Stor: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("sent %d bytes, want %d", n, len(payload))
	}
	f, ok := srv.File("/dump/new.vma")
	if !ok || !bytes.Equal(f.Data, payload) {
		t.Fatal("uploaded content mismatch")
	}

	if err := c.Delete("/dump/old.vma"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Delete("/dump/old.vma"); !IsCode(err, StatusFileUnavailable) {
		t.Fatalf("second delete should fail with 550, got %v", err)
	}

	if err := c.Quit(); err != nil {
		t.Fatalf("Quit: %v", err)
	}

	var sawPASV bool
	for _, cmd := range srv.Commands() {
		if cmd == "PASV" {
			sawPASV = true
		}
	}
	if !sawPASV {
		t.Fatal("client should fall back to PASV")
	}
}

func TestDialHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Dial(ctx, "127.0.0.1:1", time.Second); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}

func TestParsePassiveReplies(t *testing.T) {
	port, err := parseEPSV("Entering Extended Passive Mode (|||6446|)")
	if err != nil || port != 6446 {
		t.Fatalf("parseEPSV = %d, %v", port, err)
	}
	if _, err := parseEPSV("Entering Extended Passive Mode"); err == nil {
		t.Fatal("expected error for malformed EPSV")
	}

	host, port, err := parsePASV("Entering Passive Mode (192,168,1,10,19,137)")
	if err != nil {
		t.Fatalf("parsePASV: %v", err)
	}
	if host != "192.168.1.10" || port != 19*256+137 {
		t.Fatalf("parsePASV = %s:%d", host, port)
	}
	if _, _, err := parsePASV("Entering Passive Mode (1,2,3)"); err == nil {
		t.Fatal("expected error for short PASV")
	}
}
