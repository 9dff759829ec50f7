// Package environment identifies the hypervisor vzsave runs on.
package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const (
	pveVersionFile = "/etc/pve-manager/version"
	pveLegacyFile  = "/etc/pve/pve.version"
)

var (
	additionalPaths = []string{"/usr/bin", "/usr/sbin", "/bin", "/sbin"}

	pveDirCandidates = []string{
		"/etc/pve",
		"/var/lib/pve-cluster",
	}

	pveVersionRe = regexp.MustCompile(`pve-manager/([0-9]+\.[0-9]+(?:[.-][0-9]+)*)`)

	lookPath   = exec.LookPath
	runCommand = defaultRunCommand
	readFile   = os.ReadFile
	statPath   = os.Stat
)

// ErrNotPVE is returned by Detect on hosts without a Proxmox VE installation.
var ErrNotPVE = errors.New("no Proxmox VE installation found")

// Info describes the host.
type Info struct {
	// PVE is true when the host looks like a Proxmox VE node.
	PVE bool
	// Version is the pve-manager version, "unknown" when it cannot be read.
	Version string
	// VZDumpPath is the resolved path of the backup command, empty when not in PATH.
	VZDumpPath string
}

// Detect probes the host for Proxmox VE and the backup command. A non-nil
// error means the host is not a Proxmox VE node; Info is still populated.
func Detect(ctx context.Context, backupCommand string) (*Info, error) {
	extendPath()

	info := &Info{Version: "unknown"}
	if backupCommand != "" {
		if p, err := lookPath(backupCommand); err == nil {
			info.VZDumpPath = p
		}
	}

	if version, ok := detectPVE(ctx); ok {
		info.PVE = true
		if version != "" {
			info.Version = version
		}
		return info, nil
	}
	return info, ErrNotPVE
}

// String renders the detection result for logs.
func (i *Info) String() string {
	if i == nil || !i.PVE {
		return "not a Proxmox VE host"
	}
	return "Proxmox VE " + i.Version
}

func detectPVE(ctx context.Context) (string, bool) {
	if cmdPath, err := lookPath("pveversion"); err == nil {
		output, err := runCommand(ctx, cmdPath)
		if err != nil {
			return "", true
		}
		return extractPVEVersion(output), true
	}

	if data, err := readFile(pveVersionFile); err == nil {
		if version := strings.TrimSpace(string(data)); version != "" {
			return version, true
		}
	}
	if data, err := readFile(pveLegacyFile); err == nil {
		return extractPVEVersion(string(data)), true
	}

	for _, dir := range pveDirCandidates {
		if info, err := statPath(dir); err == nil && info.IsDir() {
			return "", true
		}
	}
	return "", false
}

// extendPath appends the sbin directories cron environments tend to omit.
func extendPath() {
	currentPath := os.Getenv("PATH")
	pathSet := make(map[string]struct{})
	for _, part := range strings.Split(currentPath, string(os.PathListSeparator)) {
		pathSet[part] = struct{}{}
	}

	updated := currentPath
	for _, add := range additionalPaths {
		if _, ok := pathSet[add]; !ok {
			if updated == "" {
				updated = add
			} else {
				updated = updated + string(os.PathListSeparator) + add
			}
		}
	}

	if updated != currentPath {
		_ = os.Setenv("PATH", updated)
	}
}

func defaultRunCommand(ctx context.Context, command string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, command, args...).Output()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command %s timed out", command)
	}
	if err != nil {
		return "", err
	}
	return string(output), nil
}

func extractPVEVersion(output string) string {
	if match := pveVersionRe.FindStringSubmatch(output); len(match) >= 2 {
		return match[1]
	}
	return ""
}
