package dataset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/sbinet/npyio"
)

// ReadNPY decodes a C-ordered .npy array of any supported numeric dtype
// into float32 values and its shape.
func ReadNPY(r io.Reader) ([]float32, []int, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read npy header: %v", err)
	}
	descr := nr.Header.Descr
	if descr.Fortran {
		return nil, nil, fmt.Errorf("fortran-ordered arrays are not supported")
	}
	shape := append([]int(nil), descr.Shape...)

	var out []float32
	switch descr.Type {
	case "<f4":
		err = nr.Read(&out)
	case "<f8":
		var v []float64
		if err = nr.Read(&v); err == nil {
			out = make([]float32, len(v))
			for i, x := range v {
				out[i] = float32(x)
			}
		}
	case "|u1":
		var v []uint8
		if err = nr.Read(&v); err == nil {
			out = make([]float32, len(v))
			for i, x := range v {
				out[i] = float32(x)
			}
		}
	case "<u2":
		var v []uint16
		if err = nr.Read(&v); err == nil {
			out = make([]float32, len(v))
			for i, x := range v {
				out[i] = float32(x)
			}
		}
	case "<i2":
		var v []int16
		if err = nr.Read(&v); err == nil {
			out = make([]float32, len(v))
			for i, x := range v {
				out[i] = float32(x)
			}
		}
	default:
		return nil, nil, fmt.Errorf("unsupported npy dtype %q", descr.Type)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read npy data: %v", err)
	}
	return out, shape, nil
}

// WriteNPY encodes data as a version 1.0 little-endian float32 .npy array
// with the given shape.
func WriteNPY(w io.Writer, shape []int, data []float32) error {
	n := 1
	dims := make([]string, len(shape))
	for i, d := range shape {
		n *= d
		dims[i] = fmt.Sprint(d)
	}
	if n != len(data) {
		return fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}
	tuple := "(" + strings.Join(dims, ", ") + ")"
	if len(shape) == 1 {
		tuple = "(" + dims[0] + ",)"
	}

	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': %s, }", tuple)
	// magic(6) + version(2) + length(2) + header + '\n' is padded to 64 bytes
	total := 10 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
