//go:build windows

package vox

// platformBackends returns Windows's only backend, IOCP. No select(2)
// fallback is listed for Windows, so an IOCP failure leaves no backend.
func platformBackends() []BackendFactory {
	return []BackendFactory{
		{
			Name: "iocp",
			New:  func() (Backend, error) { return &FastPoller{}, nil },
		},
	}
}
