package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tis24dev/vzsave/internal/safefs"
)

// ErrNoLocalBackup is returned when the storage directory holds no backup
// for the machine.
var ErrNoLocalBackup = errors.New("no local backup found")

// vzdump writes these next to every archive; they are never uploaded.
var sidecarSuffixes = []string{".log", ".notes", ".tmp"}

// LocalBackup is a backup archive found in a machine's storage directory.
type LocalBackup struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// FindLatestBackup scans dir for archives of machineID, recognised by a name
// containing "-<machineID>-" (e.g. vzdump-qemu-101-2024_05_01-03_00_00.vma.lzo),
// and returns the most recent one. The directory read is bounded by
// safefs.DefaultTimeout so a hung network storage cannot stall the run.
func FindLatestBackup(ctx context.Context, dir, machineID string) (*LocalBackup, error) {
	candidates, err := listLocalBackups(ctx, dir, machineID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for machine %s in %s", ErrNoLocalBackup, machineID, dir)
	}
	return &candidates[0], nil
}

// listLocalBackups returns the archives of machineID, newest first.
func listLocalBackups(ctx context.Context, dir, machineID string) ([]LocalBackup, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage path is empty")
	}
	entries, err := safefs.ReadDir(ctx, dir, safefs.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("read storage directory %s: %w", dir, err)
	}

	marker := "-" + machineID + "-"
	var backups []LocalBackup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.Contains(name, marker) || isSidecar(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		backups = append(backups, LocalBackup{
			Path:    filepath.Join(dir, name),
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	// Sort by modification time (newest first), then by name
	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].ModTime.Equal(backups[j].ModTime) {
			return backups[i].ModTime.After(backups[j].ModTime)
		}
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

func isSidecar(name string) bool {
	for _, suffix := range sidecarSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
