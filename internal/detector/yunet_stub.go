//go:build !gocv

package detector

import (
	"errors"

	"github.com/andresmejia3/reframe/internal/config"
)

// ErrYuNetUnavailable is returned when the binary was built without OpenCV.
var ErrYuNetUnavailable = errors.New("yunet backend requires building with -tags gocv")

func NewYuNetFactory(config.DetectorConfig) (Factory, error) {
	return nil, ErrYuNetUnavailable
}
