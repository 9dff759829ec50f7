package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"filippo.io/age"

	"github.com/tis24dev/vzsave/internal/config"
	"github.com/tis24dev/vzsave/internal/ftpclient"
	"github.com/tis24dev/vzsave/internal/logging"
	"github.com/tis24dev/vzsave/pkg/utils"
)

// ftpSession is the subset of *ftpclient.Conn used by the archiver.
type ftpSession interface {
	Login(user, password string) error
	Binary() error
	List(dir string) ([]string, error)
	Delete(path string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) (int64, error)
	Quit() error
	Close() error
}

type dialFunc func(ctx context.Context, addr string, timeout time.Duration) (ftpSession, error)

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (ftpSession, error) {
	return ftpclient.Dial(ctx, addr, timeout)
}

// FTPArchiver uploads the newest local backup of a machine to
// <dir>/<machine id>/ and rotates older remote copies. Each Archive call
// opens and closes its own FTP session.
type FTPArchiver struct {
	cfg        *config.FTPConfig
	logger     *logging.Logger
	recipients []age.Recipient
	now        func() time.Time
	dial       dialFunc
}

// NewFTPArchiver creates an archiver for the given endpoint. Configured age
// recipients are parsed here so a bad key fails before any backup runs.
func NewFTPArchiver(cfg *config.FTPConfig, logger *logging.Logger) (*FTPArchiver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ftp configuration is missing")
	}
	recipients, err := ParseRecipients(cfg.AgeRecipients)
	if err != nil {
		return nil, fmt.Errorf("ftp age recipients: %w", err)
	}
	return &FTPArchiver{
		cfg:        cfg,
		logger:     logger,
		recipients: recipients,
		now:        time.Now,
		dial:       dialFTP,
	}, nil
}

// Archive implements Archiver.
func (a *FTPArchiver) Archive(ctx context.Context, machine config.Machine) (result *ArchiveResult, err error) {
	started := a.now()
	result = &ArchiveResult{Encrypted: len(a.recipients) > 0}
	defer func() { result.Duration = a.now().Sub(started) }()

	local, err := FindLatestBackup(ctx, machine.StoragePath, machine.ID)
	if err != nil {
		return result, &StorageError{Operation: "select", Path: machine.StoragePath, Err: err}
	}
	result.LocalFile = local.Path
	a.logger.Info("Selected local backup %s (%s)", local.Name, utils.FormatBytes(local.Size))

	addr := a.cfg.Address()
	done := logging.TraceOperation(a.logger, "ftp session", "addr=%s user=%s", addr, a.cfg.Login)
	defer func() { done(err) }()

	conn, err := a.dial(ctx, addr, a.cfg.Timeout())
	if err != nil {
		return result, &StorageError{Operation: "connect", Path: addr, Err: err}
	}
	defer conn.Close()

	if err := conn.Login(a.cfg.Login, a.cfg.Pass); err != nil {
		return result, &StorageError{Operation: "login", Path: addr, Err: err}
	}
	if err := conn.Binary(); err != nil {
		return result, &StorageError{Operation: "binary", Path: addr, Err: err}
	}

	dir := a.cfg.MachineDir(machine.ID)
	if !a.rotate(conn, dir, machine.Backlog(), result) {
		a.ensureDir(conn, dir)
	}

	remotePath := path.Join(dir, local.Name)
	if result.Encrypted {
		remotePath += EncryptedSuffix
	}
	n, err := a.upload(conn, local.Path, remotePath)
	if err != nil && missingTarget(err) {
		a.logger.Warning("Upload to %s refused (%v), creating %s and retrying", remotePath, err, dir)
		a.ensureDir(conn, dir)
		n, err = a.upload(conn, local.Path, remotePath)
	}
	result.Bytes = n
	if err != nil {
		return result, &StorageError{Operation: "upload", Path: remotePath, Err: err}
	}
	result.RemotePath = remotePath
	a.logger.Info("Uploaded %s to %s (%s)", local.Name, remotePath, utils.FormatBytes(n))

	if qerr := conn.Quit(); qerr != nil {
		a.logger.Debug("FTP quit: %v", qerr)
	}
	return result, nil
}

// rotate lists dir and deletes the files exceeding the backlog. Failures are
// logged and never abort the upload. It reports false when dir may not exist:
// the listing failed, or it was empty, which some servers also answer for
// missing directories.
func (a *FTPArchiver) rotate(conn ftpSession, dir string, backlog int, result *ArchiveResult) bool {
	lines, err := conn.List(dir)
	if err != nil {
		a.logger.Warning("Cannot list %s, assuming it is empty: %v", dir, err)
		return false
	}

	files := ParseListing(lines, dir, a.now())
	if len(files) == 0 {
		a.logger.Debug("Remote directory %s is empty or missing", dir)
		return false
	}
	plan := PlanRetention(files, backlog)
	a.logger.Debug("Remote directory %s: %d entries, backlog %d, %d to delete",
		dir, len(files), backlog, len(plan))

	for _, f := range plan {
		if err := conn.Delete(f.Path); err != nil {
			a.logger.Warning("Failed to delete old archive %s: %v", f.Path, err)
			result.DeleteFails = append(result.DeleteFails, f.Name)
			continue
		}
		a.logger.Info("Deleted old archive %s (created: %s)", f.Name, f.ModTime.Format("2006-01-02 15:04"))
		result.Deleted = append(result.Deleted, f.Name)
	}
	return true
}

// ensureDir creates dir and each missing parent, one MKD per component.
// Replies for components that already exist are ignored; any other MKD
// failure is logged as a warning and left for STOR to report.
func (a *FTPArchiver) ensureDir(conn ftpSession, dir string) {
	var parts []string
	for d := path.Clean("/" + dir); d != "/"; d = path.Dir(d) {
		parts = append(parts, d)
	}
	if !strings.HasPrefix(dir, "/") {
		for i := range parts {
			parts[i] = strings.TrimPrefix(parts[i], "/")
		}
	}

	var lastErr error
	for i := len(parts) - 1; i >= 0; i-- {
		err := conn.MakeDir(parts[i])
		switch {
		case err == nil:
			a.logger.Debug("Created remote directory %s", parts[i])
			lastErr = nil
		case alreadyExists(err):
			a.logger.Debug("Remote directory %s already exists", parts[i])
			lastErr = nil
		default:
			a.logger.Debug("MKD %s: %v", parts[i], err)
			lastErr = err
		}
	}
	if lastErr != nil {
		a.logger.Warning("Cannot create remote directory %s: %v", dir, lastErr)
	}
}

// alreadyExists recognises the MKD replies servers send for an existing
// directory. The code alone is not enough: 550 also means a missing parent.
func alreadyExists(err error) bool {
	if ftpclient.IsCode(err, 521) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "exist")
}

// missingTarget reports whether a STOR failure points at a missing directory.
func missingTarget(err error) bool {
	return ftpclient.IsCode(err, 550) || ftpclient.IsCode(err, 553)
}

func (a *FTPArchiver) upload(conn ftpSession, localPath, remotePath string) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var src io.Reader = file
	if len(a.recipients) > 0 {
		enc := encryptingReader(file, a.recipients)
		defer enc.Close()
		src = enc
		a.logger.Debug("Encrypting upload via age (streaming)")
	}
	return conn.Stor(remotePath, src)
}
