package volumeio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantindices/internal/models"
)

func testGeometry() models.Geometry {
	g := models.NewGeometry([models.Dim]int{4, 3, 2}, [models.Dim]float64{0.9765625, 0.9765625, 3.27}, [models.Dim]float64{-250, -250, -120.5})
	g.Direction = [models.Dim][models.Dim]float64{{-1, 0, 0}, {0, -1, 0}, {0, 0, 1}}
	return g
}

func TestVolumeRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts WriteOptions
	}{
		{"pet.mha", WriteOptions{}},
		{"pet.mhd", WriteOptions{}},
		{"petz.mha", WriteOptions{Compress: true}},
		{"petz.mhd", WriteOptions{Compress: true}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vol := models.NewVolume(testGeometry())
			for i := range vol.Data {
				vol.Data[i] = float64(i)*0.37 - 2
			}
			path := filepath.Join(t.TempDir(), tc.name)
			require.NoError(t, WriteVolume(path, vol, tc.opts))

			got, err := ReadVolume(path)
			require.NoError(t, err)
			assert.True(t, got.SameAs(vol.Geometry, models.GeometryTolerance), "geometry %+v", got.Geometry)
			assert.Equal(t, vol.Data, got.Data)
		})
	}
}

func TestSeparateDataFileName(t *testing.T) {
	dir := t.TempDir()
	vol := models.NewVolume(testGeometry())
	require.NoError(t, WriteVolume(filepath.Join(dir, "a.mhd"), vol, WriteOptions{Compress: true}))
	assert.FileExists(t, filepath.Join(dir, "a.zraw"))

	header, err := os.ReadFile(filepath.Join(dir, "a.mhd"))
	require.NoError(t, err)
	assert.Contains(t, string(header), "ElementDataFile = a.zraw\n")
	assert.Contains(t, string(header), "TransformMatrix = -1 0 0 0 -1 0 0 0 1\n")
}

func TestLabelRoundTrip(t *testing.T) {
	labels := models.NewLabelVolume(testGeometry())
	labels.Set(models.Index{1, 1, 1}, 7)
	labels.Set(models.Index{3, 2, 0}, -2)
	path := filepath.Join(t.TempDir(), "seg.mha")
	require.NoError(t, WriteLabelVolume(path, labels, WriteOptions{Compress: true}))

	got, err := ReadLabelVolume(path)
	require.NoError(t, err)
	assert.Equal(t, labels.Data, got.Data)
	assert.Equal(t, []int32{-2, 7}, got.Labels())
}

func TestReadHandWrittenHeader(t *testing.T) {
	dir := t.TempDir()
	raw := make([]byte, 2*2*2*2)
	for i := 0; i < 8; i++ {
		binary.BigEndian.PutUint16(raw[i*2:], uint16(int16(i-3)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ct.raw"), raw, 0644))
	header := "ObjectType = Image\n" +
		"NDims = 3\n" +
		"BinaryData = True\n" +
		"BinaryDataByteOrderMSB = True\n" +
		"Offset = 1 2 3\n" +
		"ElementSpacing = 2 2 4\n" +
		"DimSize = 2 2 2\n" +
		"ElementType = MET_SHORT\n" +
		"ElementDataFile = ct.raw\n"
	path := filepath.Join(dir, "ct.mhd")
	require.NoError(t, os.WriteFile(path, []byte(header), 0644))

	vol, err := ReadVolume(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{-3, -2, -1, 0, 1, 2, 3, 4}, vol.Data)
	assert.Equal(t, [models.Dim]float64{2, 2, 4}, vol.Spacing)
	p := vol.IndexToPoint(models.Index{1, 1, 1})
	assert.Equal(t, 3.0, p.X)
	assert.Equal(t, 4.0, p.Y)
	assert.Equal(t, 7.0, p.Z)
}

func TestReadTwoDimensional(t *testing.T) {
	dir := t.TempDir()
	header := "NDims = 2\nDimSize = 3 2\nElementSpacing = 0.5 0.5\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n"
	data := append([]byte(header), 1, 2, 3, 4, 5, 6)
	path := filepath.Join(dir, "slice.mha")
	require.NoError(t, os.WriteFile(path, data, 0644))

	vol, err := ReadVolume(path)
	require.NoError(t, err)
	assert.Equal(t, [models.Dim]int{3, 2, 1}, vol.Size)
	assert.Equal(t, [models.Dim]float64{0.5, 0.5, 1}, vol.Spacing)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, vol.Data)
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadVolume(filepath.Join(dir, "missing.mha"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	cases := map[string]string{
		"type.mha":     "DimSize = 1 1 1\nElementType = MET_LONG_LONG\nElementDataFile = LOCAL\n",
		"channels.mha": "DimSize = 1 1 1\nElementNumberOfChannels = 3\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n",
		"list.mha":     "DimSize = 1 1 1\nElementType = MET_UCHAR\nElementDataFile = LIST\n",
		"ascii.mha":    "BinaryData = False\nDimSize = 1 1 1\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n",
	}
	for name, header := range cases {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(header+"x"), 0644))
		_, err := ReadVolume(path)
		assert.ErrorIs(t, err, ErrUnsupported, name)
	}

	short := filepath.Join(dir, "short.mha")
	require.NoError(t, os.WriteFile(short, []byte("DimSize = 2 2 2\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n\x01\x02"), 0644))
	_, err = ReadVolume(short)
	assert.Error(t, err)

	nodata := filepath.Join(dir, "nodata.mha")
	require.NoError(t, os.WriteFile(nodata, []byte("DimSize = 2 2 2\nElementType = MET_UCHAR\n"), 0644))
	_, err = ReadVolume(nodata)
	assert.Error(t, err)
}

func TestReadLabelRejectsFractions(t *testing.T) {
	vol := models.NewVolume(testGeometry())
	vol.Data[5] = 1.5
	path := filepath.Join(t.TempDir(), "frac.mha")
	require.NoError(t, WriteVolume(path, vol, WriteOptions{}))

	_, err := ReadLabelVolume(path)
	assert.ErrorIs(t, err, ErrNotInteger)
}
