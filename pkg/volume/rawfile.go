package volume

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"volview/internal/models"
)

// RawExt is the file extension of the raw volume format.
const RawExt = ".vol"

// rawMagic opens every raw volume file. It is followed by three little
// endian uint32 axis lengths and X*Y*Z little endian float32 samples.
var rawMagic = [4]byte{'V', 'O', 'L', '1'}

// maxRawVoxels bounds the declared size so a corrupt header cannot request
// an unbounded allocation.
const maxRawVoxels = 1 << 30

// rawHeaderSize is the encoded size of the magic and axis lengths.
const rawHeaderSize = 16

// rawChunk is the number of samples decoded per read, so memory grows with
// the data actually present rather than with the declared extent.
const rawChunk = 1 << 14

// ReadRaw decodes a raw volume from r.
func ReadRaw(r io.Reader) (*models.RawVolume, error) {
	return readRaw(r, -1)
}

// readRaw decodes a raw volume. A non-negative size is the total encoded
// length available and is checked against the header before any sample is
// read.
func readRaw(r io.Reader, size int64) (*models.RawVolume, error) {
	var header struct {
		Magic   [4]byte
		X, Y, Z uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("error reading volume header: %w", err)
	}
	if header.Magic != rawMagic {
		return nil, fmt.Errorf("bad volume magic %q", header.Magic[:])
	}

	dims := models.Extent{X: int(header.X), Y: int(header.Y), Z: int(header.Z)}
	voxels := uint64(header.X) * uint64(header.Y) * uint64(header.Z)
	if !dims.Valid() || voxels > maxRawVoxels {
		return nil, &UnsupportedFormatError{Dims: dims, Reason: "declared axis lengths out of range"}
	}
	if size >= 0 && uint64(size) < rawHeaderSize+4*voxels {
		return nil, &UnsupportedFormatError{Dims: dims, Reason: fmt.Sprintf("file holds %d bytes, header declares %d", size, rawHeaderSize+4*voxels)}
	}

	n := dims.Voxels()
	data := make([]float64, 0, min(n, rawChunk))
	chunk := make([]float32, min(n, rawChunk))
	for len(data) < n {
		part := chunk[:min(n-len(data), len(chunk))]
		if err := binary.Read(r, binary.LittleEndian, part); err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				return nil, &UnsupportedFormatError{Dims: dims, Samples: len(data), Reason: "file ends before all samples were read"}
			}
			return nil, fmt.Errorf("error reading volume samples: %w", err)
		}
		for _, v := range part {
			data = append(data, float64(v))
		}
	}

	vol := &models.RawVolume{Data: data, Dims: dims}
	vol.Spacing.X, vol.Spacing.Y, vol.Spacing.Z = 1, 1, 1
	return vol, nil
}

// ReadRawFile decodes the raw volume stored at path.
func ReadRawFile(path string) (*models.RawVolume, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return readRaw(bufio.NewReader(file), info.Size())
}

// WriteRaw encodes vol in the raw volume format.
func WriteRaw(w io.Writer, vol *models.RawVolume) error {
	if len(vol.Data) != vol.Dims.Voxels() {
		return &UnsupportedFormatError{Dims: vol.Dims, Samples: len(vol.Data)}
	}
	header := struct {
		Magic   [4]byte
		X, Y, Z uint32
	}{rawMagic, uint32(vol.Dims.X), uint32(vol.Dims.Y), uint32(vol.Dims.Z)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}

	samples := make([]float32, len(vol.Data))
	for i, v := range vol.Data {
		if math.Abs(v) > math.MaxFloat32 {
			return &UnsupportedFormatError{Dims: vol.Dims, Samples: len(vol.Data), Reason: fmt.Sprintf("sample %d overflows float32", i)}
		}
		samples[i] = float32(v)
	}
	return binary.Write(w, binary.LittleEndian, samples)
}

// WriteRawFile writes vol to path, replacing any existing file.
func WriteRawFile(path string, vol *models.RawVolume) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	buf := bufio.NewWriter(file)
	if err := WriteRaw(buf, vol); err != nil {
		file.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
