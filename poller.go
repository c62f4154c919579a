// Package vox provides I/O event registration via the [Backend]
// abstraction.
//
// # I/O Registration
//
// Each platform contributes a FastPoller implementing [Backend] on top of
// its native readiness/completion mechanism:
//   - Linux: epoll (poller_linux.go)
//   - Darwin/BSD: kqueue (poller_darwin.go)
//   - Windows: IOCP (poller_windows.go)
//   - everywhere else: select(2)-class polling (backend_select_unix.go)
//
// # Usage
//
//	loop.AddFD(fd, vox.EventRead, func(events vox.IOEvents) {
//	    // handle readable event
//	})
//
// # Safety
//
// Always call RemoveFD before closing a file descriptor to prevent stale
// event delivery due to FD recycling.
package vox
