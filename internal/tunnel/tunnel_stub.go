//go:build !linux

package tunnel

type Device struct{}

func Open(_ Config) (*Device, error) {
	return nil, ErrUnsupported
}

func (d *Device) Name() string                { return "" }
func (d *Device) Read(_ []byte) (int, error)  { return 0, ErrUnsupported }
func (d *Device) Write(_ []byte) (int, error) { return 0, ErrUnsupported }
func (d *Device) Close() error                { return nil }
