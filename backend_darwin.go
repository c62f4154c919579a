//go:build darwin

package vox

// platformBackends returns Darwin's auto-select chain: kqueue first, then
// the select(2) fallback.
func platformBackends() []BackendFactory {
	return []BackendFactory{
		{
			Name: "kqueue",
			New:  func() (Backend, error) { return &FastPoller{}, nil },
		},
		{
			Name: "select",
			New:  func() (Backend, error) { return &SelectBackendImpl{}, nil },
		},
	}
}
