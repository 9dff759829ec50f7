// Package ftpclient is a small passive-mode FTP client exposing the
// operations needed to archive backups: login, raw LIST, DELE, MKD and STOR.
package ftpclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	StatusFileStatusOK     = 150
	StatusDataAlreadyOpen  = 125
	StatusCommandOK        = 200
	StatusReady            = 220
	StatusClosing          = 221
	StatusTransferComplete = 226
	StatusPassiveMode      = 227
	StatusExtendedPassive  = 229
	StatusLoggedIn         = 230
	StatusFileActionOK     = 250
	StatusPathCreated      = 257
	StatusNeedPassword     = 331
	StatusNotLoggedIn      = 530
	StatusFileUnavailable  = 550
)

// Conn is one FTP control connection. It is not safe for concurrent use;
// every machine opens its own session.
type Conn struct {
	conn    net.Conn
	text    *textproto.Conn
	host    string
	timeout time.Duration
	epsv    bool

	stopOnce sync.Once
	stop     func() bool
}

// Dial connects to addr (host:port) and reads the server greeting. The
// connection is closed when ctx is cancelled.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid FTP address %q: %w", addr, err)
	}

	dialer := &net.Dialer{Timeout: timeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	dc := &deadlineConn{Conn: nc, timeout: timeout}
	c := &Conn{
		conn:    nc,
		text:    textproto.NewConn(dc),
		host:    host,
		timeout: timeout,
		epsv:    true,
	}
	c.stop = context.AfterFunc(ctx, func() { nc.Close() })

	if _, _, err := c.text.ReadResponse(StatusReady); err != nil {
		c.Close()
		return nil, fmt.Errorf("FTP greeting from %s: %w", addr, err)
	}
	return c, nil
}

// Login authenticates with USER/PASS. Servers accepting USER alone are handled.
func (c *Conn) Login(user, password string) error {
	code, msg, err := c.cmd(-1, "USER %s", user)
	if err != nil {
		return err
	}
	switch code {
	case StatusLoggedIn:
		return nil
	case StatusNeedPassword:
		if _, _, err := c.cmd(StatusLoggedIn, "PASS %s", password); err != nil {
			return fmt.Errorf("login as %s: %w", user, err)
		}
		return nil
	default:
		return fmt.Errorf("login as %s: %w", user, &textproto.Error{Code: code, Msg: msg})
	}
}

// Binary switches the session to image (binary) transfer mode.
func (c *Conn) Binary() error {
	_, _, err := c.cmd(StatusCommandOK, "TYPE I")
	return err
}

// List runs LIST on dir and returns the raw listing lines, unparsed.
func (c *Conn) List(dir string) ([]string, error) {
	data, err := c.transfer("LIST %s", dir)
	if err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(data)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	scanErr := scanner.Err()
	if err := c.finish(data); err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read listing of %s: %w", dir, scanErr)
	}
	return lines, nil
}

// Delete removes a remote file.
func (c *Conn) Delete(path string) error {
	_, _, err := c.cmd(StatusFileActionOK, "DELE %s", path)
	return err
}

// MakeDir creates a remote directory.
func (c *Conn) MakeDir(path string) error {
	_, _, err := c.cmd(StatusPathCreated, "MKD %s", path)
	return err
}

// Stor uploads r to path and returns the number of bytes sent.
func (c *Conn) Stor(path string, r io.Reader) (int64, error) {
	data, err := c.transfer("STOR %s", path)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(data, r)
	finishErr := c.finish(data)
	if copyErr != nil {
		return n, fmt.Errorf("upload %s: %w", path, copyErr)
	}
	return n, finishErr
}

// Quit ends the session politely and closes the connection.
func (c *Conn) Quit() error {
	_, _, err := c.cmd(StatusClosing, "QUIT")
	closeErr := c.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// Close closes the control connection without QUIT.
func (c *Conn) Close() error {
	c.stopOnce.Do(func() {
		if c.stop != nil {
			c.stop()
		}
	})
	return c.text.Close()
}

// IsCode reports whether err is an FTP reply with the given status code.
func IsCode(err error, code int) bool {
	var perr *textproto.Error
	return errors.As(err, &perr) && perr.Code == code
}

func (c *Conn) cmd(expect int, format string, args ...interface{}) (int, string, error) {
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return 0, "", fmt.Errorf("send %s: %w", verb(format), err)
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)

	code, msg, err := c.text.ReadResponse(expect)
	if err != nil {
		return code, msg, fmt.Errorf("%s: %w", verb(format), err)
	}
	return code, msg, nil
}

// transfer opens a passive data connection and issues a data command on it.
func (c *Conn) transfer(format string, args ...interface{}) (net.Conn, error) {
	addr, err := c.passiveAddr()
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: c.timeout}
	nc, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("open data connection to %s: %w", addr, err)
	}
	data := &deadlineConn{Conn: nc, timeout: c.timeout}

	code, msg, err := c.cmd(-1, format, args...)
	if err != nil {
		data.Close()
		return nil, err
	}
	if code != StatusFileStatusOK && code != StatusDataAlreadyOpen {
		data.Close()
		return nil, fmt.Errorf("%s: %w", verb(format), &textproto.Error{Code: code, Msg: msg})
	}
	return data, nil
}

// finish closes the data connection and waits for the transfer result.
func (c *Conn) finish(data net.Conn) error {
	closeErr := data.Close()
	if _, _, err := c.text.ReadResponse(StatusTransferComplete); err != nil {
		if !IsCode(err, StatusFileActionOK) {
			return fmt.Errorf("transfer: %w", err)
		}
	}
	return closeErr
}

func (c *Conn) passiveAddr() (string, error) {
	if c.epsv {
		_, msg, err := c.cmd(StatusExtendedPassive, "EPSV")
		if err == nil {
			port, perr := parseEPSV(msg)
			if perr != nil {
				return "", perr
			}
			return net.JoinHostPort(c.host, strconv.Itoa(port)), nil
		}
		c.epsv = false
	}

	_, msg, err := c.cmd(StatusPassiveMode, "PASV")
	if err != nil {
		return "", err
	}
	host, port, err := parsePASV(msg)
	if err != nil {
		return "", err
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = c.host
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// parseEPSV extracts the port from "Entering Extended Passive Mode (|||6446|)".
func parseEPSV(msg string) (int, error) {
	start := strings.Index(msg, "(")
	end := strings.LastIndex(msg, ")")
	if start < 0 || end <= start+1 {
		return 0, fmt.Errorf("malformed EPSV reply %q", msg)
	}
	inner := msg[start+1 : end]
	delim := inner[:1]
	fields := strings.Split(inner, delim)
	if len(fields) != 5 {
		return 0, fmt.Errorf("malformed EPSV reply %q", msg)
	}
	port, err := strconv.Atoi(fields[3])
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid EPSV port in %q", msg)
	}
	return port, nil
}

// parsePASV extracts host and port from "Entering Passive Mode (h1,h2,h3,h4,p1,p2)".
func parsePASV(msg string) (string, int, error) {
	start := strings.Index(msg, "(")
	end := strings.LastIndex(msg, ")")
	if start < 0 || end <= start {
		return "", 0, fmt.Errorf("malformed PASV reply %q", msg)
	}
	parts := strings.Split(msg[start+1:end], ",")
	if len(parts) != 6 {
		return "", 0, fmt.Errorf("malformed PASV reply %q", msg)
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return "", 0, fmt.Errorf("malformed PASV reply %q", msg)
		}
		nums[i] = n
	}
	host := fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	return host, nums[4]<<8 | nums[5], nil
}

func verb(format string) string {
	if i := strings.IndexByte(format, ' '); i > 0 {
		return format[:i]
	}
	return format
}

// deadlineConn refreshes the I/O deadline before every read and write so
// that long transfers only fail when they stall.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		d.Conn.SetReadDeadline(time.Now().Add(d.timeout))
	}
	return d.Conn.Read(p)
}

func (d *deadlineConn) Write(p []byte) (int, error) {
	if d.timeout > 0 {
		d.Conn.SetWriteDeadline(time.Now().Add(d.timeout))
	}
	return d.Conn.Write(p)
}
