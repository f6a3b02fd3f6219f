//go:build !linux

package tree

import "errors"

var errNoInotify = errors.New("inotify is only available on linux; use the fsnotify backend")

// Inotify is unavailable on this platform.
type Inotify struct{}

// NewInotify always fails on this platform.
func NewInotify() (*Inotify, error) { return nil, errNoInotify }

func (*Inotify) Add(string, Op) (Handle, error) { return NoHandle, errNoInotify }
func (*Inotify) Remove(Handle) error { return errNoInotify }
func (*Inotify) Read() ([]RawEvent, error) { return nil, errNoInotify }
func (*Inotify) Correlates() bool { return true }
func (*Inotify) Close() error { return nil }
