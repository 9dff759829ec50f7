package storage

import (
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/agessh"
)

// EncryptedSuffix is appended to remote names of age-encrypted uploads.
const EncryptedSuffix = ".age"

// ParseRecipients parses age X25519 ("age1...") and SSH public key recipients.
// Blank and duplicate entries are ignored.
func ParseRecipients(values []string) ([]age.Recipient, error) {
	seen := make(map[string]struct{}, len(values))
	var parsed []age.Recipient
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}

		recipient, err := parseRecipient(value)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, recipient)
	}
	return parsed, nil
}

func parseRecipient(value string) (age.Recipient, error) {
	switch {
	case strings.HasPrefix(value, "age1"):
		return age.ParseX25519Recipient(value)
	case strings.HasPrefix(strings.ToLower(value), "ssh-"):
		return agessh.ParseRecipient(value)
	default:
		return nil, fmt.Errorf("unsupported AGE recipient format: %s", value)
	}
}

// encryptingReader returns a reader yielding src encrypted for recipients.
// The encryption runs in a goroutine feeding a pipe; closing the returned
// reader stops it.
func encryptingReader(src io.Reader, recipients []age.Recipient) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		writer, err := age.Encrypt(pw, recipients...)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("initialize age encryption: %w", err))
			return
		}
		if _, err := io.Copy(writer, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()
	return pr
}
