package storage

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"strings"
	"testing"

	"filippo.io/age"
	"filippo.io/age/agessh"
	"golang.org/x/crypto/ssh"
)

func TestEncryptingReaderSSHRecipient(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("ssh.NewPublicKey: %v", err)
	}
	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))

	recipients, err := ParseRecipients([]string{authorized})
	if err != nil {
		t.Fatalf("ParseRecipients: %v", err)
	}
	if len(recipients) != 1 {
		t.Fatalf("recipients = %d, want 1", len(recipients))
	}

	plain := []byte("vzdump-qemu-101-2024_01_01-00_00_00.vma.zst contents")
	enc := encryptingReader(bytes.NewReader(plain), recipients)
	defer enc.Close()
	ciphertext, err := io.ReadAll(enc)
	if err != nil {
		t.Fatalf("read encrypted stream: %v", err)
	}
	if bytes.Contains(ciphertext, plain) {
		t.Fatal("ciphertext contains the plaintext")
	}

	identity, err := agessh.NewEd25519Identity(priv)
	if err != nil {
		t.Fatalf("NewEd25519Identity: %v", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		t.Fatalf("age.Decrypt: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read decrypted stream: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("decrypted = %q, want %q", got, plain)
	}
}

func TestParseRecipientsRejectsUnknownFormat(t *testing.T) {
	if _, err := ParseRecipients([]string{"pgp:ABCDEF"}); err == nil {
		t.Fatal("expected an error for an unsupported recipient")
	}
}
