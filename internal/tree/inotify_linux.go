//go:build linux

package tree

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Size of the read buffer in events of maximum length.
const inotifyBufferEvents = 1024

var kernelOps = []struct {
	kernel uint32
	op     Op
}{
	{unix.IN_CREATE, OpCreate},
	{unix.IN_DELETE, OpDelete},
	{unix.IN_CLOSE_WRITE, OpCloseWrite},
	{unix.IN_MOVED_FROM, OpMovedFrom},
	{unix.IN_MOVED_TO, OpMovedTo},
	{unix.IN_MOVE_SELF, OpMoveSelf},
	{unix.IN_DELETE_SELF, OpDeleteSelf},
	{unix.IN_IGNORED, OpIgnored},
	{unix.IN_ISDIR, OpIsDir},
	{unix.IN_Q_OVERFLOW, OpOverflow},
}

func toKernel(o Op) uint32 {
	var m uint32
	for _, k := range kernelOps {
		if o&k.op != 0 {
			m |= k.kernel
		}
	}
	return m
}

func fromKernel(m uint32) Op {
	var o Op
	for _, k := range kernelOps {
		if m&k.kernel != 0 {
			o |= k.op
		}
	}
	return o
}

// Inotify is a Backend using the Linux inotify API. Moves carry cookies.
type Inotify struct {
	fd int
	// pipeR/pipeW form a self-pipe: Close writes a byte to pipeW, which
	// unblocks the poll(2) call in Read waiting on pipeR.
	pipeR  int
	pipeW  int
	buf    []byte
	mu     sync.Mutex // held by Read while it uses the descriptors
	closed atomic.Bool
}

// NewInotify creates an inotify instance.
func NewInotify() (*Inotify, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pipe2: %w", err)
	}
	return &Inotify{
		fd:    fd,
		pipeR: p[0],
		pipeW: p[1],
		buf:   make([]byte, inotifyBufferEvents*(unix.SizeofInotifyEvent+unix.NAME_MAX+1)),
	}, nil
}

// Add watches the directory at path. Symlinks are not followed and
// non-directories are refused as vanished.
func (w *Inotify) Add(path string, mask Op) (Handle, error) {
	wd, err := unix.InotifyAddWatch(w.fd, path, toKernel(mask)|unix.IN_ONLYDIR|unix.IN_DONT_FOLLOW)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENOTDIR):
			return NoHandle, fmt.Errorf("add watch %q: %w", path, ErrPathVanished)
		case errors.Is(err, unix.ENOSPC), errors.Is(err, unix.EMFILE):
			return NoHandle, fmt.Errorf("add watch %q: %w", path, ErrWatchLimitExceeded)
		}
		return NoHandle, fmt.Errorf("add watch %q: %w", path, err)
	}
	return Handle(wd), nil
}

// Remove removes the watch h. The kernel reports IN_IGNORED for it.
func (w *Inotify) Remove(h Handle) error {
	if _, err := unix.InotifyRmWatch(w.fd, uint32(h)); err != nil {
		if errors.Is(err, unix.EINVAL) {
			return fmt.Errorf("remove watch %d: %w", h, ErrInvalidHandle)
		}
		return fmt.Errorf("remove watch %d: %w", h, err)
	}
	return nil
}

// Correlates reports true: the kernel pairs moves with cookies.
func (w *Inotify) Correlates() bool { return true }

// Read blocks until the kernel has events or Close is called.
func (w *Inotify) Read() ([]RawEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		if w.closed.Load() {
			return nil, ErrClosed
		}
		fds := []unix.PollFd{
			{Fd: int32(w.fd), Events: unix.POLLIN},
			{Fd: int32(w.pipeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("poll: %w", err)
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			return nil, ErrClosed
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		n, err := unix.Read(w.fd, w.buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		if events := parseInotify(w.buf[:n]); len(events) > 0 {
			return events, nil
		}
	}
}

// Close releases the inotify instance. A blocked Read returns ErrClosed.
func (w *Inotify) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	unix.Write(w.pipeW, []byte{0}) //nolint:errcheck
	w.mu.Lock()
	defer w.mu.Unlock()
	unix.Close(w.pipeW)
	unix.Close(w.pipeR)
	return unix.Close(w.fd)
}

// parseInotify decodes a buffer of struct inotify_event records. The name
// field is NUL-terminated and padded.
func parseInotify(buf []byte) []RawEvent {
	var events []RawEvent
	for offset := 0; offset+unix.SizeofInotifyEvent <= len(buf); {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		offset += unix.SizeofInotifyEvent

		var name string
		if raw.Len > 0 {
			end := offset + int(raw.Len)
			if end > len(buf) {
				break
			}
			name = strings.TrimRight(string(buf[offset:end]), "\x00")
			offset = end
		}
		events = append(events, RawEvent{
			Handle: Handle(raw.Wd),
			Op:     fromKernel(raw.Mask),
			Cookie: raw.Cookie,
			Name:   name,
		})
	}
	return events
}
