package volume

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volview/internal/models"
)

func TestRawRoundTripThroughResolver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cube"+RawExt)

	dims := models.Extent{X: 3, Y: 2, Z: 2}
	src := rawVolume(dims, func(i int) float64 { return float64(i) * 1.5 })
	require.NoError(t, WriteRawFile(path, src))

	r := NewResolver()
	for _, uri := range []string{path, "file://" + filepath.ToSlash(path)} {
		vol, err := r.Load(context.Background(), uri)
		require.NoError(t, err, uri)
		assert.Equal(t, dims, vol.Dims)
		assert.Equal(t, src.Data, vol.Data)
	}
}

func TestRawTruncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short"+RawExt)
	require.NoError(t, WriteRawFile(path, rawVolume(models.Extent{X: 4, Y: 4, Z: 4}, func(i int) float64 { return float64(i) })))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-8], 0644))

	_, err = NewResolver().Load(context.Background(), path)
	var format *UnsupportedFormatError
	assert.ErrorAs(t, err, &format)
}

func TestResolverErrors(t *testing.T) {
	r := NewResolver()
	ctx := context.Background()

	var loadErr *ResourceLoadError
	_, err := r.Load(ctx, filepath.Join(t.TempDir(), "missing.vol"))
	assert.ErrorAs(t, err, &loadErr)

	_, err = r.Load(ctx, "s3://bucket/volume.vol")
	assert.ErrorAs(t, err, &loadErr)

	txt := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0644))
	_, err = r.Load(ctx, txt)
	assert.ErrorAs(t, err, &loadErr)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	r := NewResolver()
	r.Register(MemoryScheme, store)

	vol := rawVolume(models.Extent{X: 1, Y: 1, Z: 2}, func(i int) float64 { return float64(i) })
	uri := store.Put("pair", vol)
	assert.Equal(t, "mem://pair", uri)

	got, err := r.Load(context.Background(), uri)
	require.NoError(t, err)
	assert.Same(t, vol, got)

	_, err = r.Load(context.Background(), "mem://nothing")
	var loadErr *ResourceLoadError
	assert.True(t, errors.As(err, &loadErr))
}

func TestLoadSliceStack(t *testing.T) {
	dir := t.TempDir()
	width, height := 5, 4

	// write slices out of lexical order to check numeric sorting
	for _, z := range []int{10, 2, 1} {
		img := image.NewGray16(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(z * 1000)})
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("slice_%d.png", z)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}

	vol, err := NewResolver().Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, models.Extent{X: width, Y: height, Z: 3}, vol.Dims)

	plane := width * height
	assert.InDelta(t, 1000.0/65535.0, vol.Data[0], 1e-9)
	assert.InDelta(t, 2000.0/65535.0, vol.Data[plane], 1e-9)
	assert.InDelta(t, 10000.0/65535.0, vol.Data[2*plane], 1e-9)
}

func TestLoadSliceStackEmpty(t *testing.T) {
	_, err := NewResolver().Load(context.Background(), t.TempDir())
	var loadErr *ResourceLoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLocalPath(t *testing.T) {
	p, ok := LocalPath("file:///data/head.vol")
	assert.True(t, ok)
	assert.Equal(t, filepath.FromSlash("/data/head.vol"), p)

	_, ok = LocalPath("mem://x")
	assert.False(t, ok)

	p, ok = LocalPath("relative/head.vol")
	assert.True(t, ok)
	assert.Equal(t, "relative/head.vol", p)
}

func largeHeader(n uint32) []byte {
	header := make([]byte, rawHeaderSize)
	copy(header, rawMagic[:])
	binary.LittleEndian.PutUint32(header[4:], n)
	binary.LittleEndian.PutUint32(header[8:], n)
	binary.LittleEndian.PutUint32(header[12:], n)
	return header
}

func TestRawLargeHeaderFailsFast(t *testing.T) {
	header := largeHeader(512)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := ReadRaw(bytes.NewReader(header))
	runtime.ReadMemStats(&after)

	var format *UnsupportedFormatError
	require.ErrorAs(t, err, &format)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(4<<20), "allocation must not follow the declared extent")

	path := filepath.Join(t.TempDir(), "corrupt"+RawExt)
	require.NoError(t, os.WriteFile(path, header, 0644))

	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err = ReadRawFile(path)
	runtime.ReadMemStats(&after)

	require.ErrorAs(t, err, &format)
	assert.Contains(t, format.Error(), "header declares")
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestRawMultiChunk(t *testing.T) {
	dims := models.Extent{X: 64, Y: 32, Z: 17}
	src := rawVolume(dims, func(i int) float64 { return float64(i % 977) })

	var buf bytes.Buffer
	require.NoError(t, WriteRaw(&buf, src))
	vol, err := ReadRaw(&buf)
	require.NoError(t, err)
	assert.Equal(t, src.Data, vol.Data)
}
