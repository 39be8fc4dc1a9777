package appmenu

import (
	"bytes"
	"fmt"
	"image/png"
)

// Icon is an item icon carried inline as PNG data.
type Icon struct {
	Width  int32
	Height int32
	Bytes  []byte
}

// NewIcon returns a new [Icon] from PNG data.
func NewIcon(data []byte) (*Icon, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid icon: %w", err)
	}

	return &Icon{
		Width:  int32(cfg.Width),
		Height: int32(cfg.Height),
		Bytes:  data,
	}, nil
}

// NewIconFromProperty returns a new [Icon] from the value of the icon-data
// layout property.
//
// Format of the value is a byte array (ay) holding a PNG image.
func NewIconFromProperty(value any) (*Icon, error) {
	data, ok := value.([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid icon-data format: expected []byte")
	}

	return NewIcon(data)
}
