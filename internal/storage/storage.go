// Package storage archives finished vzdump files to a remote FTP location and
// keeps the remote directory of every machine within its backlog.
package storage

import (
	"context"
	"time"

	"github.com/tis24dev/vzsave/internal/config"
)

// FileType classifies a remote listing entry.
type FileType string

const (
	TypeFile   FileType = "file"
	TypeFolder FileType = "folder"
	TypeLink   FileType = "link"
	TypeOther  FileType = "other"
)

// RemoteFile is one entry of a remote directory listing.
type RemoteFile struct {
	Rights  string
	Type    FileType
	Links   int
	Owner   string
	Group   string
	Size    int64
	ModTime time.Time
	Name    string
	Path    string
}

// IsRegular reports whether the entry is a plain file.
func (f RemoteFile) IsRegular() bool {
	return f.Type == TypeFile
}

// Archiver stores the latest local backup of a machine remotely.
type Archiver interface {
	Archive(ctx context.Context, machine config.Machine) (*ArchiveResult, error)
}

// ArchiveResult describes what an archive run did.
type ArchiveResult struct {
	LocalFile   string
	RemotePath  string
	Bytes       int64
	Encrypted   bool
	Deleted     []string
	DeleteFails []string
	Duration    time.Duration
}

// StorageError represents an error from a storage operation
type StorageError struct {
	Operation string // "select", "connect", "login", "list", "upload", ...
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return "storage " + e.Operation + " failed: " + e.Err.Error()
	}
	return "storage " + e.Operation + " failed for " + e.Path + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
