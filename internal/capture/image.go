package capture

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
)

// Image is one raw frame as delivered by the camera.
type Image struct {
	ID        uuid.UUID
	Timestamp time.Time
	Exposure  float64
	Dark      bool
	Width     int
	Height    int
	Source    string
	Data      []byte
}

func newImage(data []byte, exposure float64, dark bool, ts time.Time, source string) *Image {
	return &Image{
		ID:        uuid.New(),
		Timestamp: ts.UTC(),
		Exposure:  exposure,
		Dark:      dark,
		Width:     protocol.FrameWidth,
		Height:    protocol.FrameHeight,
		Source:    source,
		Data:      data,
	}
}

// Pixels decodes Data into row-major uint16 values.
func (img *Image) Pixels() []uint16 {
	px := make([]uint16, len(img.Data)/2)
	for i := range px {
		px[i] = binary.LittleEndian.Uint16(img.Data[i*2:])
	}
	return px
}

// At returns the pixel at column x, row y.
func (img *Image) At(x, y int) uint16 {
	i := (y*img.Width + x) * 2
	return binary.LittleEndian.Uint16(img.Data[i:])
}
