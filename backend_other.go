//go:build !linux && !darwin && !windows

package vox

// platformBackends returns the select(2) fallback as the sole backend on
// platforms without a dedicated high-performance mechanism wired (other
// BSD variants, Solaris, etc).
func platformBackends() []BackendFactory {
	return []BackendFactory{
		{
			Name: "select",
			New:  func() (Backend, error) { return &SelectBackendImpl{}, nil },
		},
	}
}
