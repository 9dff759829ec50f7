// Package ftptest provides an in-memory FTP server for tests.
package ftptest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// File is a remote entry held by the server.
type File struct {
	Data    []byte
	ModTime time.Time
	Dir     bool
}

// Server is a single-user, passive-mode FTP server backed by a map of paths.
type Server struct {
	User     string
	Password string

	// DisableEPSV makes the server reject EPSV so clients fall back to PASV.
	DisableEPSV bool
	// ExtraListLines are appended to every LIST response (e.g. "total 0").
	ExtraListLines []string
	// ListMissingAsEmpty answers LIST of a missing directory with an empty
	// listing instead of 550, as servers that pass the argument to ls do.
	ListMissingAsEmpty bool
	// FailDelete lists paths whose DELE is refused.
	FailDelete map[string]bool
	// Now supplies upload timestamps; defaults to time.Now.
	Now func() time.Time

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	files    map[string]*File
	commands []string
	deleted  []string
	uploaded []string
	conns    map[net.Conn]struct{}
}

// NewServer starts a server on a loopback port.
func NewServer(user, password string) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		User:       user,
		Password:   password,
		FailDelete: map[string]bool{},
		listener:   ln,
		files:      map[string]*File{"/": {Dir: true}},
		conns:      map[net.Conn]struct{}{},
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Addr returns the control address (host:port).
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops accepting connections, drops open sessions and waits for them.
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// AddFile stores a file, creating its parent directories.
func (s *Server) AddFile(p string, data []byte, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = clean(p)
	s.mkdirAllLocked(path.Dir(p), modTime)
	s.files[p] = &File{Data: data, ModTime: modTime}
}

// AddDir creates a directory and its parents.
func (s *Server) AddDir(p string, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAllLocked(clean(p), modTime)
}

// File returns the entry stored at p.
func (s *Server) File(p string) (*File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[clean(p)]
	return f, ok
}

// Names returns the sorted names of the entries directly under dir.
func (s *Server) Names(dir string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, p := range s.childrenLocked(clean(dir)) {
		names = append(names, path.Base(p))
	}
	return names
}

// Commands returns every command verb received, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Deleted returns the paths removed with DELE.
func (s *Server) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// Uploaded returns the paths written with STOR.
func (s *Server) Uploaded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploaded...)
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			s.handle(conn)
		}()
	}
}

type session struct {
	conn     net.Conn
	r        *bufio.Reader
	user     string
	loggedIn bool
	passive  net.Listener
}

func (sess *session) reply(code int, format string, args ...interface{}) {
	fmt.Fprintf(sess.conn, "%d %s\r\n", code, fmt.Sprintf(format, args...))
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	sess := &session{conn: conn, r: bufio.NewReader(conn)}
	defer func() {
		if sess.passive != nil {
			sess.passive.Close()
		}
	}()

	sess.reply(220, "ftptest ready")
	for {
		line, err := sess.r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)

		s.mu.Lock()
		s.commands = append(s.commands, verb)
		s.mu.Unlock()

		if !sess.loggedIn && verb != "USER" && verb != "PASS" && verb != "QUIT" {
			sess.reply(530, "Please login with USER and PASS")
			continue
		}

		switch verb {
		case "USER":
			sess.user = arg
			sess.reply(331, "Password required")
		case "PASS":
			if sess.user == s.User && arg == s.Password {
				sess.loggedIn = true
				sess.reply(230, "Logged in")
			} else {
				sess.reply(530, "Login incorrect")
			}
		case "TYPE":
			sess.reply(200, "Type set to %s", arg)
		case "EPSV":
			if s.DisableEPSV {
				sess.reply(502, "EPSV not implemented")
				continue
			}
			port, err := sess.listen()
			if err != nil {
				sess.reply(425, "Cannot open data connection")
				continue
			}
			sess.reply(229, "Entering Extended Passive Mode (|||%d|)", port)
		case "PASV":
			port, err := sess.listen()
			if err != nil {
				sess.reply(425, "Cannot open data connection")
				continue
			}
			sess.reply(227, "Entering Passive Mode (127,0,0,1,%d,%d)", port>>8, port&0xff)
		case "LIST":
			s.list(sess, arg)
		case "DELE":
			s.dele(sess, arg)
		case "MKD":
			s.mkd(sess, arg)
		case "STOR":
			s.stor(sess, arg)
		case "QUIT":
			sess.reply(221, "Goodbye")
			return
		default:
			sess.reply(502, "Command not implemented")
		}
	}
}

func (sess *session) listen() (int, error) {
	if sess.passive != nil {
		sess.passive.Close()
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	sess.passive = ln
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (sess *session) acceptData() (net.Conn, error) {
	if sess.passive == nil {
		return nil, fmt.Errorf("no passive listener")
	}
	ln := sess.passive
	sess.passive = nil
	defer ln.Close()
	if tl, ok := ln.(*net.TCPListener); ok {
		tl.SetDeadline(time.Now().Add(5 * time.Second))
	}
	return ln.Accept()
}

func (s *Server) list(sess *session, arg string) {
	dir := clean(arg)

	s.mu.Lock()
	entry, ok := s.files[dir]
	found := ok && entry.Dir
	var lines []string
	if found {
		lines = append(lines, formatEntry(".", entry), formatEntry("..", &File{Dir: true, ModTime: entry.ModTime}))
		for _, p := range s.childrenLocked(dir) {
			lines = append(lines, formatEntry(path.Base(p), s.files[p]))
		}
		lines = append(lines, s.ExtraListLines...)
	}
	emptyForMissing := !ok && s.ListMissingAsEmpty
	s.mu.Unlock()

	if !found && !emptyForMissing {
		sess.reply(550, "%s: No such file or directory", arg)
		return
	}

	sess.reply(150, "Here comes the directory listing")
	data, err := sess.acceptData()
	if err != nil {
		sess.reply(425, "Cannot open data connection")
		return
	}
	for _, l := range lines {
		fmt.Fprintf(data, "%s\r\n", l)
	}
	data.Close()
	sess.reply(226, "Directory send OK")
}

func (s *Server) dele(sess *session, arg string) {
	p := clean(arg)
	s.mu.Lock()
	f, ok := s.files[p]
	refused := s.FailDelete[p]
	if ok && !f.Dir && !refused {
		delete(s.files, p)
		s.deleted = append(s.deleted, p)
	}
	s.mu.Unlock()

	if !ok || f.Dir || refused {
		sess.reply(550, "Delete operation failed")
		return
	}
	sess.reply(250, "Delete operation successful")
}

func (s *Server) mkd(sess *session, arg string) {
	p := clean(arg)
	s.mu.Lock()
	_, exists := s.files[p]
	parent, parentOK := s.files[path.Dir(p)]
	created := !exists && parentOK && parent.Dir
	if created {
		s.files[p] = &File{Dir: true, ModTime: s.now()}
	}
	s.mu.Unlock()

	switch {
	case exists:
		sess.reply(550, "%s: File exists", arg)
		return
	case !created:
		sess.reply(550, "Create directory operation failed")
		return
	}
	sess.reply(257, "%q created", p)
}

func (s *Server) stor(sess *session, arg string) {
	p := clean(arg)
	s.mu.Lock()
	parent, ok := s.files[path.Dir(p)]
	s.mu.Unlock()
	if !ok || !parent.Dir {
		sess.reply(553, "Could not create file")
		return
	}

	sess.reply(150, "Ok to send data")
	data, err := sess.acceptData()
	if err != nil {
		sess.reply(425, "Cannot open data connection")
		return
	}
	body, err := io.ReadAll(data)
	data.Close()
	if err != nil {
		sess.reply(426, "Connection closed; transfer aborted")
		return
	}

	s.mu.Lock()
	s.files[p] = &File{Data: body, ModTime: s.now()}
	s.uploaded = append(s.uploaded, p)
	s.mu.Unlock()
	sess.reply(226, "Transfer complete")
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Server) mkdirAllLocked(dir string, modTime time.Time) {
	for d := dir; ; d = path.Dir(d) {
		if f, ok := s.files[d]; ok && f.Dir {
			break
		}
		s.files[d] = &File{Dir: true, ModTime: modTime}
		if d == "/" {
			break
		}
	}
}

func (s *Server) childrenLocked(dir string) []string {
	var out []string
	for p := range s.files {
		if p != "/" && path.Dir(p) == dir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// formatEntry renders a Unix "ls -l" line the way common FTP servers do.
func formatEntry(name string, f *File) string {
	rights := "-rw-r--r--"
	links := 1
	if f.Dir {
		rights = "drwxr-xr-x"
		links = 2
	}
	stamp := f.ModTime.Format("Jan _2 15:04")
	if time.Since(f.ModTime) > 180*24*time.Hour {
		stamp = f.ModTime.Format("Jan _2  2006")
	}
	return fmt.Sprintf("%s %4d ftp      ftp      %10d %s %s", rights, links, len(f.Data), stamp, name)
}

func clean(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
