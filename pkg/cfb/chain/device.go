package chain

import (
	"errors"

	"github.com/nspcc-dev/cfb/pkg/cfb/blockdev"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
)

// DeviceIO is BlockIO over container blocks of a device: block s lives in
// device block s+1 after the header.
type DeviceIO struct {
	dev *blockdev.Device
}

// NewDeviceIO returns BlockIO addressing container blocks of dev.
func NewDeviceIO(dev *blockdev.Device) DeviceIO {
	return DeviceIO{dev: dev}
}

// BlockSize implements BlockIO.
func (d DeviceIO) BlockSize() int {
	return d.dev.BlockSize()
}

// ReadBlock implements BlockIO. A chain block past the end of the file is
// ErrCorrupt.
func (d DeviceIO) ReadBlock(i uint32) ([]byte, error) {
	b, err := d.dev.ReadBlock(header.BlockOf(i))
	if errors.Is(err, common.ErrOutOfRange) {
		return nil, common.Corruptf("block %d beyond end of file: %v", i, err)
	}
	return b, err
}

// WriteBlock implements BlockIO.
func (d DeviceIO) WriteBlock(i uint32, data []byte) error {
	return d.dev.WriteBlock(header.BlockOf(i), data)
}
