package storage

import (
	"sort"
)

// PlanRetention returns the remote files to delete before uploading a new
// archive so that the directory holds at most backlog files afterwards.
// Only regular files count. The newest backlog-1 files are kept and the rest
// is returned oldest first. A backlog of zero or less disables rotation.
func PlanRetention(files []RemoteFile, backlog int) []RemoteFile {
	if backlog <= 0 {
		return nil
	}

	var regular []RemoteFile
	for _, f := range files {
		if f.IsRegular() {
			regular = append(regular, f)
		}
	}

	keep := backlog - 1
	if len(regular) <= keep {
		return nil
	}

	// Sort by timestamp (oldest first); equal stamps keep listing order
	sort.SliceStable(regular, func(i, j int) bool {
		return regular[i].ModTime.Before(regular[j].ModTime)
	})

	return regular[:len(regular)-keep]
}
