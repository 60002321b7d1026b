// Package volumeio reads and writes 3D volumes in the MetaImage format
// (.mha with embedded data, or .mhd with a separate raw file), optionally
// zlib-compressed.
package volumeio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"

	"quantindices/internal/models"
)

// Element types understood by the reader
const (
	TypeUChar  = "MET_UCHAR"
	TypeChar   = "MET_CHAR"
	TypeUShort = "MET_USHORT"
	TypeShort  = "MET_SHORT"
	TypeUInt   = "MET_UINT"
	TypeInt    = "MET_INT"
	TypeFloat  = "MET_FLOAT"
	TypeDouble = "MET_DOUBLE"
)

const localData = "LOCAL"

var (
	// ErrUnsupported is returned for valid MetaImage features this package
	// does not handle.
	ErrUnsupported = errors.New("volumeio: unsupported MetaImage")

	// ErrNotInteger is returned when a label image holds non-integral values.
	ErrNotInteger = errors.New("volumeio: label image holds non-integer values")
)

var elementSizes = map[string]int{
	TypeUChar: 1, TypeChar: 1,
	TypeUShort: 2, TypeShort: 2,
	TypeUInt: 4, TypeInt: 4, TypeFloat: 4,
	TypeDouble: 8,
}

// header is the parsed MetaImage header
type header struct {
	geometry       models.Geometry
	elementType    string
	msb            bool
	compressed     bool
	compressedSize int64
	dataFile       string
}

// ReadVolume loads an intensity volume; any element type is converted to
// float64.
func ReadVolume(path string) (*models.Volume, error) {
	h, values, err := read(path)
	if err != nil {
		return nil, err
	}
	return &models.Volume{Geometry: h.geometry, Data: values}, nil
}

// ReadLabelVolume loads a label volume. Floating point images are accepted
// as long as every value is an integer within the int32 range.
func ReadLabelVolume(path string) (*models.LabelVolume, error) {
	h, values, err := read(path)
	if err != nil {
		return nil, err
	}
	labels := models.NewLabelVolume(h.geometry)
	for i, v := range values {
		if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %g at offset %d in %s", ErrNotInteger, v, i, path)
		}
		labels.Data[i] = int32(v)
	}
	return labels, nil
}

func read(path string) (header, []float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return header{}, nil, fmt.Errorf("volumeio: reading %s: %w", path, err)
	}
	h, dataStart, err := parseHeader(raw)
	if err != nil {
		return header{}, nil, fmt.Errorf("volumeio: %s: %w", path, err)
	}

	var payload []byte
	if strings.EqualFold(h.dataFile, localData) {
		payload = raw[dataStart:]
	} else {
		dataPath := h.dataFile
		if !filepath.IsAbs(dataPath) {
			dataPath = filepath.Join(filepath.Dir(path), dataPath)
		}
		if payload, err = os.ReadFile(dataPath); err != nil {
			return header{}, nil, fmt.Errorf("volumeio: reading data of %s: %w", path, err)
		}
	}

	n := h.geometry.Len()
	want := n * elementSizes[h.elementType]
	if h.compressed {
		if h.compressedSize > 0 && int64(len(payload)) > h.compressedSize {
			payload = payload[:h.compressedSize]
		}
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return header{}, nil, fmt.Errorf("volumeio: %s: %w", path, err)
		}
		defer zr.Close()
		buf := make([]byte, want)
		if _, err := io.ReadFull(zr, buf); err != nil {
			return header{}, nil, fmt.Errorf("volumeio: inflating %s: %w", path, err)
		}
		payload = buf
	}
	if len(payload) < want {
		return header{}, nil, fmt.Errorf("volumeio: %s: %d data bytes, want %d", path, len(payload), want)
	}

	values, err := decode(payload[:want], h.elementType, h.order(), n)
	if err != nil {
		return header{}, nil, fmt.Errorf("volumeio: %s: %w", path, err)
	}
	return h, values, nil
}

func (h header) order() binary.ByteOrder {
	if h.msb {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// parseHeader reads "Key = Value" lines up to and including ElementDataFile
// and returns the offset where embedded data starts.
func parseHeader(raw []byte) (header, int, error) {
	h := header{}
	g := models.Geometry{}
	for d := 0; d < models.Dim; d++ {
		g.Size[d] = 1
		g.Spacing[d] = 1
	}
	ndims := 0
	channels := 1
	var matrix []float64

	pos := 0
	for pos < len(raw) {
		end := bytes.IndexByte(raw[pos:], '\n')
		next := len(raw)
		if end >= 0 {
			next = pos + end + 1
		}
		line := strings.TrimSpace(string(raw[pos:next]))
		pos = next
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return h, 0, fmt.Errorf("malformed header line %q", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "ObjectType":
			if !strings.EqualFold(value, "Image") {
				return h, 0, fmt.Errorf("%w: object type %q", ErrUnsupported, value)
			}
		case "NDims":
			if ndims, err = strconv.Atoi(value); err == nil && (ndims < 2 || ndims > models.Dim) {
				err = fmt.Errorf("%w: %d dimensions", ErrUnsupported, ndims)
			}
		case "DimSize":
			var sizes []int
			if sizes, err = parseInts(value); err == nil {
				copy(g.Size[:], sizes)
			}
		case "ElementSpacing", "ElementSize":
			var spacing []float64
			if spacing, err = parseFloats(value); err == nil {
				copy(g.Spacing[:], spacing)
			}
		case "Offset", "Origin", "Position":
			var origin []float64
			if origin, err = parseFloats(value); err == nil {
				copy(g.Origin[:], origin)
			}
		case "TransformMatrix", "Rotation", "Orientation":
			matrix, err = parseFloats(value)
		case "BinaryDataByteOrderMSB", "ElementByteOrderMSB":
			h.msb = strings.EqualFold(value, "True")
		case "CompressedData":
			h.compressed = strings.EqualFold(value, "True")
		case "CompressedDataSize":
			h.compressedSize, err = strconv.ParseInt(value, 10, 64)
		case "ElementNumberOfChannels":
			channels, err = strconv.Atoi(value)
		case "ElementType":
			if _, known := elementSizes[value]; !known {
				err = fmt.Errorf("%w: element type %q", ErrUnsupported, value)
			}
			h.elementType = value
		case "BinaryData":
			if !strings.EqualFold(value, "True") {
				err = fmt.Errorf("%w: ASCII data", ErrUnsupported)
			}
		case "ElementDataFile":
			if strings.EqualFold(value, "LIST") || strings.Contains(value, "%") {
				return h, 0, fmt.Errorf("%w: data file list %q", ErrUnsupported, value)
			}
			h.dataFile = value
		}
		if err != nil {
			return h, 0, fmt.Errorf("header key %s: %w", key, err)
		}
		if key == "ElementDataFile" {
			break
		}
	}

	if h.dataFile == "" {
		return h, 0, errors.New("header has no ElementDataFile")
	}
	if h.elementType == "" {
		return h, 0, errors.New("header has no ElementType")
	}
	if channels != 1 {
		return h, 0, fmt.Errorf("%w: %d channels", ErrUnsupported, channels)
	}
	if ndims == 0 {
		ndims = models.Dim
	}
	if matrix != nil {
		if len(matrix) != ndims*ndims {
			return h, 0, fmt.Errorf("TransformMatrix has %d values, want %d", len(matrix), ndims*ndims)
		}
		// stored axis by axis: the values of axis c are the c-th column
		for d := 0; d < models.Dim; d++ {
			g.Direction[d][d] = 1
		}
		for c := 0; c < ndims; c++ {
			for r := 0; r < ndims; r++ {
				g.Direction[r][c] = matrix[c*ndims+r]
			}
		}
	}
	if err := g.Validate(); err != nil {
		return h, 0, err
	}
	h.geometry = g
	return h, pos, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func decode(buf []byte, elementType string, order binary.ByteOrder, n int) ([]float64, error) {
	out := make([]float64, n)
	size := elementSizes[elementType]
	for i := 0; i < n; i++ {
		b := buf[i*size : (i+1)*size]
		switch elementType {
		case TypeUChar:
			out[i] = float64(b[0])
		case TypeChar:
			out[i] = float64(int8(b[0]))
		case TypeUShort:
			out[i] = float64(order.Uint16(b))
		case TypeShort:
			out[i] = float64(int16(order.Uint16(b)))
		case TypeUInt:
			out[i] = float64(order.Uint32(b))
		case TypeInt:
			out[i] = float64(int32(order.Uint32(b)))
		case TypeFloat:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case TypeDouble:
			out[i] = math.Float64frombits(order.Uint64(b))
		default:
			return nil, fmt.Errorf("%w: element type %q", ErrUnsupported, elementType)
		}
	}
	return out, nil
}

// WriteOptions controls how volumes are written
type WriteOptions struct {
	// Compress deflates the voxel data with zlib
	Compress bool
}

// WriteVolume stores an intensity volume as MET_DOUBLE. A ".mha" path embeds
// the data; any other extension gets a header plus a ".raw" (or ".zraw")
// data file next to it.
func WriteVolume(path string, vol *models.Volume, opts WriteOptions) error {
	buf := make([]byte, 8*len(vol.Data))
	for i, v := range vol.Data {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return write(path, vol.Geometry, TypeDouble, buf, opts)
}

// WriteLabelVolume stores a label volume as MET_INT.
func WriteLabelVolume(path string, labels *models.LabelVolume, opts WriteOptions) error {
	buf := make([]byte, 4*len(labels.Data))
	for i, v := range labels.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return write(path, labels.Geometry, TypeInt, buf, opts)
}

func write(path string, g models.Geometry, elementType string, data []byte, opts WriteOptions) error {
	if opts.Compress {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("volumeio: compressing %s: %w", path, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("volumeio: compressing %s: %w", path, err)
		}
		data = z.Bytes()
	}

	embedded := strings.EqualFold(filepath.Ext(path), ".mha")
	dataFile := localData
	if !embedded {
		ext := ".raw"
		if opts.Compress {
			ext = ".zraw"
		}
		dataFile = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ext
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("volumeio: creating directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("volumeio: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	writeHeader(w, g, elementType, opts.Compress, len(data), dataFile)
	if embedded {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("volumeio: writing %s: %w", path, err)
		}
	} else {
		dataPath := filepath.Join(filepath.Dir(path), dataFile)
		if err := os.WriteFile(dataPath, data, 0644); err != nil {
			return fmt.Errorf("volumeio: writing %s: %w", dataPath, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("volumeio: writing %s: %w", path, err)
	}
	return f.Close()
}

func writeHeader(w io.Writer, g models.Geometry, elementType string, compressed bool, dataSize int, dataFile string) {
	dir := g.Direction
	if dir == ([models.Dim][models.Dim]float64{}) {
		dir = [models.Dim][models.Dim]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	var matrix []string
	for c := 0; c < models.Dim; c++ {
		for r := 0; r < models.Dim; r++ {
			matrix = append(matrix, formatFloat(dir[r][c]))
		}
	}

	fmt.Fprintf(w, "ObjectType = Image\n")
	fmt.Fprintf(w, "NDims = %d\n", models.Dim)
	fmt.Fprintf(w, "BinaryData = True\n")
	fmt.Fprintf(w, "BinaryDataByteOrderMSB = False\n")
	if compressed {
		fmt.Fprintf(w, "CompressedData = True\n")
		fmt.Fprintf(w, "CompressedDataSize = %d\n", dataSize)
	} else {
		fmt.Fprintf(w, "CompressedData = False\n")
	}
	fmt.Fprintf(w, "TransformMatrix = %s\n", strings.Join(matrix, " "))
	fmt.Fprintf(w, "Offset = %s %s %s\n", formatFloat(g.Origin[0]), formatFloat(g.Origin[1]), formatFloat(g.Origin[2]))
	fmt.Fprintf(w, "ElementSpacing = %s %s %s\n", formatFloat(g.Spacing[0]), formatFloat(g.Spacing[1]), formatFloat(g.Spacing[2]))
	fmt.Fprintf(w, "DimSize = %d %d %d\n", g.Size[0], g.Size[1], g.Size[2])
	fmt.Fprintf(w, "ElementNumberOfChannels = 1\n")
	fmt.Fprintf(w, "ElementType = %s\n", elementType)
	fmt.Fprintf(w, "ElementDataFile = %s\n", dataFile)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
