package fixture

import (
	"encoding/binary"
	"fmt"
	"os"
)

const ivfHeaderSize = 32

// ivfWriter stores received frames of one stream in an IVF container with a
// 90 kHz timebase. The frame count in the header is patched on Close.
type ivfWriter struct {
	f      *os.File
	frames uint32
}

func newIVFWriter(path, fourcc string, width, height int) (*ivfWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoded frame file: %w", err)
	}
	header := make([]byte, ivfHeaderSize)
	copy(header[0:], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], ivfHeaderSize)
	copy(header[8:], fourcc)
	binary.LittleEndian.PutUint16(header[12:], uint16(width))
	binary.LittleEndian.PutUint16(header[14:], uint16(height))
	binary.LittleEndian.PutUint32(header[16:], videoClockRate)
	binary.LittleEndian.PutUint32(header[20:], 1)
	if _, err := f.Write(header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write ivf header: %w", err)
	}
	return &ivfWriter{f: f}, nil
}

// WriteFrame appends one frame with its RTP timestamp
func (w *ivfWriter) WriteFrame(timestamp uint32, data []byte) error {
	hdr := make([]byte, 12)
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(data)))
	binary.LittleEndian.PutUint64(hdr[4:], uint64(timestamp))
	if _, err := w.f.Write(hdr); err != nil {
		return err
	}
	if _, err := w.f.Write(data); err != nil {
		return err
	}
	w.frames++
	return nil
}

func (w *ivfWriter) Close() error {
	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, w.frames)
	if _, err := w.f.WriteAt(count, 24); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// ivfFileName names the file of one stream
func ivfFileName(base string, ssrc uint32) string {
	return fmt.Sprintf("%s.%d.ivf", base, ssrc)
}
