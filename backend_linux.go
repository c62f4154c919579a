//go:build linux

package vox

// platformBackends returns Linux's auto-select chain: io_uring (multishot
// poll SQEs) first, epoll next, and the select(2) fallback last.
// URingPoller.Init fails cleanly on
// kernels/sandboxes without usable io_uring_setup, so SelectBackend falls
// through to epoll without operator intervention.
func platformBackends() []BackendFactory {
	return []BackendFactory{
		{
			Name: "io_uring",
			New:  func() (Backend, error) { return &URingPoller{}, nil },
		},
		{
			Name: "epoll",
			New:  func() (Backend, error) { return &FastPoller{}, nil },
		},
		{
			Name: "select",
			New:  func() (Backend, error) { return &SelectBackendImpl{}, nil },
		},
	}
}
