// Package tfrecord reads and writes TFRecord files and the tf.Example
// protocol buffer messages they usually carry.
//
// Each record is framed as:
//
//	uint64 length        little-endian
//	uint32 masked_crc    CRC-32C of the 8 length bytes
//	byte   data[length]
//	uint32 masked_crc    CRC-32C of data
package tfrecord

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// MaxRecordSize bounds the length accepted from a record header.
const MaxRecordSize = 256 << 20

// ErrCorruptRecord is returned for truncated records and CRC mismatches.
var ErrCorruptRecord = errors.New("tfrecord: corrupt record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const maskDelta = 0xa282ead8

// MaskedCRC returns the masked CRC-32C of data as stored in record framing.
func MaskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Reader reads records sequentially from a TFRecord stream.
type Reader struct {
	r      *bufio.Reader
	header [12]byte
	footer [4]byte
	offset int64
}

// NewReader creates a Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 1<<16)}
}

// Next returns the next record's payload. It returns io.EOF at a clean end
// of stream and an error wrapping ErrCorruptRecord otherwise.
func (r *Reader) Next() ([]byte, error) {
	n, err := io.ReadFull(r.r, r.header[:])
	switch {
	case err == io.EOF:
		return nil, io.EOF
	case err != nil:
		return nil, fmt.Errorf("%w: short header at offset %d (%d bytes)", ErrCorruptRecord, r.offset, n)
	}

	length := binary.LittleEndian.Uint64(r.header[0:8])
	if MaskedCRC(r.header[0:8]) != binary.LittleEndian.Uint32(r.header[8:12]) {
		return nil, fmt.Errorf("%w: length checksum mismatch at offset %d", ErrCorruptRecord, r.offset)
	}
	if length > MaxRecordSize {
		return nil, fmt.Errorf("%w: record length %d at offset %d exceeds limit", ErrCorruptRecord, length, r.offset)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("%w: short payload at offset %d", ErrCorruptRecord, r.offset)
	}
	if _, err := io.ReadFull(r.r, r.footer[:]); err != nil {
		return nil, fmt.Errorf("%w: missing payload checksum at offset %d", ErrCorruptRecord, r.offset)
	}
	if MaskedCRC(data) != binary.LittleEndian.Uint32(r.footer[:]) {
		return nil, fmt.Errorf("%w: payload checksum mismatch at offset %d", ErrCorruptRecord, r.offset)
	}

	r.offset += int64(len(r.header)) + int64(length) + int64(len(r.footer))
	return data, nil
}

// Writer writes framed records. Call Flush when done.
type Writer struct {
	w *bufio.Writer
}

// NewWriter creates a Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends one record.
func (w *Writer) Write(record []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(len(record)))
	binary.LittleEndian.PutUint32(header[8:12], MaskedCRC(header[0:8]))

	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], MaskedCRC(record))

	for _, chunk := range [][]byte{header[:], record, footer[:]} {
		if _, err := w.w.Write(chunk); err != nil {
			return fmt.Errorf("tfrecord: write: %w", err)
		}
	}
	return nil
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
