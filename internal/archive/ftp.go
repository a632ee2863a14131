package archive

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTP is a session against the web box upload directory. Every operation
// is bound to its ctx: when ctx ends, the control and data connections are
// closed so a stalled transfer returns instead of hanging.
type FTP struct {
	conn  *ftp.ServerConn
	dir   string
	conns *connSet
}

func DialFTP(ctx context.Context, addr, user, password, dir string, timeout time.Duration) (*FTP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conns := &connSet{open: make(map[*trackedConn]struct{})}
	dialer := net.Dialer{Timeout: timeout}
	stop := context.AfterFunc(ctx, conns.closeAll)
	defer stop()

	// The dial func serves both the control and the data connections.
	conn, err := ftp.Dial(addr, ftp.DialWithDialFunc(func(network, address string) (net.Conn, error) {
		c, err := dialer.Dial(network, address)
		if err != nil {
			return nil, err
		}
		return conns.track(c), nil
	}))
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", addr, ctxErr(ctx, err))
	}
	if err := conn.Login(user, password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", ctxErr(ctx, err))
	}
	return &FTP{conn: conn, dir: dir, conns: conns}, nil
}

// List returns base names; some servers prefix NLST output with the
// directory and some do not.
func (f *FTP) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, f.conns.closeAll)
	defer stop()

	entries, err := f.conn.NameList(f.dir)
	if err != nil {
		return nil, fmt.Errorf("ftp nlst %s: %w", f.dir, ctxErr(ctx, err))
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := path.Base(e)
		if name == "." || name == ".." || name == "" {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func (f *FTP) Retrieve(ctx context.Context, name string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, f.conns.closeAll)
	defer stop()

	resp, err := f.conn.Retr(path.Join(f.dir, name))
	if err != nil {
		return fmt.Errorf("ftp retr %s: %w", name, ctxErr(ctx, err))
	}
	_, copyErr := io.Copy(w, resp)
	closeErr := resp.Close()
	if copyErr != nil {
		return fmt.Errorf("ftp read %s: %w", name, ctxErr(ctx, copyErr))
	}
	if closeErr != nil {
		return fmt.Errorf("ftp retr %s: %w", name, ctxErr(ctx, closeErr))
	}
	return nil
}

func (f *FTP) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, f.conns.closeAll)
	defer stop()

	if err := f.conn.Delete(path.Join(f.dir, name)); err != nil {
		return fmt.Errorf("ftp dele %s: %w", name, ctxErr(ctx, err))
	}
	return nil
}

func (f *FTP) Close() error {
	err := f.conn.Quit()
	f.conns.closeAll()
	return err
}

// ctxErr prefers the context error over the network error it caused.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// connSet tracks the open connections of one session.
type connSet struct {
	mu   sync.Mutex
	open map[*trackedConn]struct{}
}

type trackedConn struct {
	net.Conn
	set *connSet
}

func (s *connSet) track(c net.Conn) net.Conn {
	tc := &trackedConn{Conn: c, set: s}
	s.mu.Lock()
	s.open[tc] = struct{}{}
	s.mu.Unlock()
	return tc
}

func (s *connSet) closeAll() {
	s.mu.Lock()
	open := s.open
	s.open = make(map[*trackedConn]struct{})
	s.mu.Unlock()
	for c := range open {
		_ = c.Conn.Close()
	}
}

func (c *trackedConn) Close() error {
	c.set.mu.Lock()
	delete(c.set.open, c)
	c.set.mu.Unlock()
	return c.Conn.Close()
}
