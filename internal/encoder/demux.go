package encoder

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/lucidesk/lucidesk/internal/logging"
	"github.com/lucidesk/lucidesk/internal/stream"
)

// demuxIVF reads one encoder stdout stream and emits every contained frame,
// tagged with the wall clock and the given epoch, until EOF or a read
// error. Payload bytes pass through untouched; the container's own
// timestamps are ignored.
func demuxIVF(r io.Reader, epoch uint32, emit func(stream.Frame)) error {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("read container header: %w", err)
	}
	log.Debug("container header",
		"fourcc", header.FourCC,
		"width", header.Width,
		"height", header.Height,
		logging.KeyEpoch, epoch)

	for {
		payload, _, err := ivf.ParseNextFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("parse frame: %w", err)
		}
		emit(stream.Frame{Bytes: payload, CaptureTime: time.Now(), Epoch: epoch})
	}
}
