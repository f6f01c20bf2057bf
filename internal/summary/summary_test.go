package summary

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreWriteAndRead(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "summaries.sqlite3"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.WriteScalars("run-a", 20, map[string]float64{"loss": 0.9, "accuracy": 0.7}))
	require.NoError(t, store.WriteScalar("run-a", "loss", 1, 2.3))
	require.NoError(t, store.WriteScalar("run-b", "loss", 1, 5))
	// Rewriting a step replaces it.
	require.NoError(t, store.WriteScalar("run-a", "loss", 20, 0.8))

	losses, err := store.Scalars("run-a", "loss")
	require.NoError(t, err)
	require.Len(t, losses, 2)
	assert.Equal(t, int64(1), losses[0].Step)
	assert.InDelta(t, 2.3, losses[0].Value, 1e-12)
	assert.Equal(t, int64(20), losses[1].Step)
	assert.InDelta(t, 0.8, losses[1].Value, 1e-12)
	assert.False(t, losses[1].WallTime.IsZero())

	tags, err := store.Tags("run-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"accuracy", "loss"}, tags)

	none, err := store.Scalars("run-c", "loss")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summaries.sqlite3")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.WriteScalar("run", "accuracy", 40, 0.95))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Scalars("run", "accuracy")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.95, got[0].Value, 1e-12)
}

func TestImageGrid(t *testing.T) {
	pixels := make([]float32, 2*4*4)
	pixels[0] = 1    // image 0, top-left
	pixels[16] = 0.5 // image 1, top-left
	pixels[17] = 7   // clamped

	img, err := ImageGrid(pixels, 2, 4, 4, []string{"3", "7"})
	require.NoError(t, err)

	tile := 4 * Scale
	assert.Equal(t, 2*(tile+gap)-gap, img.Bounds().Dx())
	assert.Equal(t, tile+captionHeight, img.Bounds().Dy())

	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	r, _, _, _ = img.At(Scale-1, Scale-1).RGBA()
	assert.Equal(t, uint32(0xffff), r, "pixel is upscaled")
	r, _, _, _ = img.At(Scale, 0).RGBA()
	assert.Equal(t, uint32(0), r)

	left := tile + gap
	r, _, _, _ = img.At(left, 0).RGBA()
	assert.Equal(t, uint32(128)*0x101, r)
	r, _, _, _ = img.At(left+Scale, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	// Some caption pixels are lit.
	lit := false
	for x := 0; x < tile && !lit; x++ {
		for y := tile; y < tile+captionHeight; y++ {
			if r, _, _, _ := img.At(x, y).RGBA(); r > 0 {
				lit = true
				break
			}
		}
	}
	assert.True(t, lit)
}

func TestImageGridErrors(t *testing.T) {
	_, err := ImageGrid(make([]float32, 10), 1, 4, 4, nil)
	assert.Error(t, err)
	_, err = ImageGrid(make([]float32, 32), 2, 4, 4, []string{"only one"})
	assert.Error(t, err)
	_, err = ImageGrid(nil, 0, 4, 4, nil)
	assert.Error(t, err)
}

func TestWritePNG(t *testing.T) {
	img, err := ImageGrid(make([]float32, 3*28*28), 3, 28, 28, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "images", "input-20.png")
	require.NoError(t, WritePNG(path, img))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}
