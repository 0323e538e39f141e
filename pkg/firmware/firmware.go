// Package firmware locates and loads the image pushed to devices.
package firmware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/security"
)

// ErrNotFound means the provider had no image to offer
var ErrNotFound = errors.New("firmware not found")

// Image is an immutable firmware payload. Engines only read it.
type Image struct {
	Data        []byte
	Environment string
	Version     string

	// Path is where the image was loaded from, for reporting
	Path   string
	SHA256 string
}

// Size returns the payload length in bytes
func (i *Image) Size() int {
	return len(i.Data)
}

// NewImage builds an image and computes its digest
func NewImage(data []byte, environment, version, path string) *Image {
	sum := sha256.Sum256(data)
	return &Image{
		Data:        data,
		Environment: environment,
		Version:     version,
		Path:        path,
		SHA256:      hex.EncodeToString(sum[:]),
	}
}

// Provider yields the firmware image for a rollout
type Provider interface {
	Firmware(ctx context.Context) (*Image, error)
}

// Load fetches the image from p and checks it against the validator limits
func Load(ctx context.Context, p Provider, v *security.Validator) (*Image, error) {
	img, err := p.Firmware(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.ValidateFirmwareSize(int64(img.Size())); err != nil {
		return nil, err
	}
	if err := v.ValidateVersion(img.Version); err != nil {
		return nil, err
	}
	return img, nil
}
