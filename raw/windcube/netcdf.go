// Package windcube decodes WindCube scanning-lidar sweep files (spec
// §4.R.4). The reference reader opens each file with a full netCDF4/HDF5
// client and iterates a "sweep_group_name" index of HDF5 subgroups; no
// library in this module's retrieval pack speaks HDF5, and hand-writing
// an HDF5 group walker is out of proportion to what this reader needs.
// Instead, this file hand-decodes the classic (CDF-1) on-disk format —
// binary header, dimension list, attribute list, variable list, exactly
// the format netCDF predates HDF5 with — using encoding/binary the way
// the teacher's packet parser walks the fixed-offset Pandar40P UDP frame
// (internal/lidar/parse/extract.go). Every WindCube Source is expected to
// carry one sweep already split into its own classic-format file, with
// the variables listed in DecodeRecord's doc comment; multi-group container
// files are a format this module does not read. See the grounding ledger
// for the full reasoning.
package windcube

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	ncDimension = 0x0A
	ncVariable  = 0x0B
	ncAttribute = 0x0C

	ncByte   = 1
	ncChar   = 2
	ncShort  = 3
	ncInt    = 4
	ncFloat  = 5
	ncDouble = 6
)

type cdfDim struct {
	Name   string
	Length int
}

type cdfVar struct {
	Name    string
	DimIDs  []int
	Attrs   map[string]string
	NCType  int
	VSize   int
	Begin   int64
	NumRecs int // -1 for a record variable (its record count is File.NumRecs), else 0
}

// File is a decoded CDF-1 (classic format) netCDF file.
type File struct {
	bytes   []byte
	Dims    []cdfDim
	Vars    map[string]*cdfVar
	NumRecs int
	RecSize int // sum of every record variable's per-record size, for interleave striding
}

// Decode parses the classic-format header of a CDF-1 file. It does not
// copy variable data; Float64, Int64 and String read directly from the
// backing byte slice on demand.
func Decode(data []byte) (*File, error) {
	if len(data) < 4 || string(data[0:3]) != "CDF" {
		return nil, fmt.Errorf("not a netCDF classic file: missing CDF magic")
	}
	version := data[3]
	if version != 1 && version != 2 {
		return nil, fmt.Errorf("unsupported netCDF classic version %d", version)
	}
	r := &cdfReader{data: data, pos: 4}

	numrecs, err := r.readUint32()
	if err != nil {
		return nil, err
	}

	f := &File{bytes: data, Vars: map[string]*cdfVar{}, NumRecs: int(numrecs)}

	dims, err := r.readDimList()
	if err != nil {
		return nil, fmt.Errorf("reading dim_list: %w", err)
	}
	f.Dims = dims

	if _, err := r.readAttrList(); err != nil {
		return nil, fmt.Errorf("reading gatt_list: %w", err)
	}

	vars, err := r.readVarList(version, dims)
	if err != nil {
		return nil, fmt.Errorf("reading var_list: %w", err)
	}
	for _, v := range vars {
		f.Vars[v.Name] = v
	}
	return f, nil
}

type cdfReader struct {
	data []byte
	pos  int
}

func (r *cdfReader) readUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("unexpected end of header")
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *cdfReader) readInt64v1or2(version byte) (int64, error) {
	if version == 1 {
		v, err := r.readUint32()
		return int64(v), err
	}
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("unexpected end of header")
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return int64(v), nil
}

// readName reads a netCDF "name" (length-prefixed string, padded to a
// 4-byte boundary).
func (r *cdfReader) readName() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.data) {
		return "", fmt.Errorf("unexpected end of header reading name")
	}
	name := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	r.pos += padding(int(n))
	return name, nil
}

func padding(n int) int {
	if rem := n % 4; rem != 0 {
		return 4 - rem
	}
	return 0
}

func (r *cdfReader) readDimList() ([]cdfDim, error) {
	tag, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	if tag != ncDimension {
		return nil, fmt.Errorf("expected NC_DIMENSION tag, got %#x", tag)
	}
	dims := make([]cdfDim, n)
	for i := range dims {
		name, err := r.readName()
		if err != nil {
			return nil, err
		}
		length, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		dims[i] = cdfDim{Name: name, Length: int(length)}
	}
	return dims, nil
}

// readAttrList consumes a global or per-variable attribute list and
// returns it as a name->string-value map; only NC_CHAR attributes (the
// only kind this reader's callers need, e.g. "units") are decoded to
// strings, others are skipped but still consume their byte range.
func (r *cdfReader) readAttrList() (map[string]string, error) {
	tag, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	attrs := map[string]string{}
	if tag == 0 {
		return attrs, nil
	}
	if tag != ncAttribute {
		return nil, fmt.Errorf("expected NC_ATTRIBUTE tag, got %#x", tag)
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.readName()
		if err != nil {
			return nil, err
		}
		ncType, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		nelems, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		size := int(nelems) * typeSize(int(ncType))
		if r.pos+size+padding(size) > len(r.data) {
			return nil, fmt.Errorf("unexpected end of header reading attribute %q", name)
		}
		if ncType == ncChar {
			attrs[name] = string(r.data[r.pos : r.pos+int(nelems)])
		}
		r.pos += size + padding(size)
	}
	return attrs, nil
}

func (r *cdfReader) readVarList(version byte, dims []cdfDim) ([]*cdfVar, error) {
	tag, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	if tag != ncVariable {
		return nil, fmt.Errorf("expected NC_VARIABLE tag, got %#x", tag)
	}
	vars := make([]*cdfVar, n)
	for i := range vars {
		name, err := r.readName()
		if err != nil {
			return nil, err
		}
		ndims, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		dimIDs := make([]int, ndims)
		for d := range dimIDs {
			id, err := r.readUint32()
			if err != nil {
				return nil, err
			}
			dimIDs[d] = int(id)
		}
		attrs, err := r.readAttrList()
		if err != nil {
			return nil, fmt.Errorf("reading vatt_list for %q: %w", name, err)
		}
		ncType, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		vsize, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		begin, err := r.readInt64v1or2(version)
		if err != nil {
			return nil, err
		}
		numRecs := 0
		if len(dimIDs) > 0 && dims[dimIDs[0]].Length == 0 {
			numRecs = -1 // marks a record variable; File.NumRecs holds the record count
		}
		vars[i] = &cdfVar{
			Name:    name,
			DimIDs:  dimIDs,
			Attrs:   attrs,
			NCType:  int(ncType),
			VSize:   int(vsize),
			Begin:   begin,
			NumRecs: numRecs,
		}
	}
	return vars, nil
}

func typeSize(ncType int) int {
	switch ncType {
	case ncByte, ncChar:
		return 1
	case ncShort:
		return 2
	case ncInt, ncFloat:
		return 4
	case ncDouble:
		return 8
	default:
		return 1
	}
}

// Var returns the decoded variable descriptor for name, if present.
func (f *File) Var(name string) (*cdfVar, bool) {
	v, ok := f.Vars[name]
	return v, ok
}

// Dim returns the length of the named dimension.
func (f *File) Dim(name string) (int, bool) {
	for _, d := range f.Dims {
		if d.Name == name {
			if d.Length == 0 {
				return f.NumRecs, true
			}
			return d.Length, true
		}
	}
	return 0, false
}

// count returns the total element count implied by v's dimensions,
// substituting the file's record count for an unlimited leading
// dimension.
func (f *File) count(v *cdfVar) int {
	total := 1
	for i, id := range v.DimIDs {
		length := f.Dims[id].Length
		if i == 0 && length == 0 {
			length = f.NumRecs
		}
		total *= length
	}
	return total
}

// Float64 reads every element of a float32 or float64 variable as
// float64, in row-major order.
func (f *File) Float64(name string) ([]float64, error) {
	v, ok := f.Vars[name]
	if !ok {
		return nil, fmt.Errorf("variable %q not found", name)
	}
	n := f.count(v)
	out := make([]float64, n)
	stride := typeSize(v.NCType)
	recordStride := v.VSize
	isRecordVar := len(v.DimIDs) > 0 && f.Dims[v.DimIDs[0]].Length == 0
	elemsPerRecord := n
	if isRecordVar && f.NumRecs > 0 {
		elemsPerRecord = n / f.NumRecs
	}
	for i := 0; i < n; i++ {
		var off int64
		if isRecordVar {
			rec := i / elemsPerRecord
			within := i % elemsPerRecord
			off = v.Begin + int64(rec)*int64(recordStride) + int64(within)*int64(stride)
		} else {
			off = v.Begin + int64(i)*int64(stride)
		}
		val, err := f.readScalar(off, v.NCType)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

// Int64 reads every element of an integer-typed variable as int64.
func (f *File) Int64(name string) ([]int64, error) {
	vals, err := f.Float64(name)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = int64(math.Round(v))
	}
	return out, nil
}

func (f *File) readScalar(offset int64, ncType int) (float64, error) {
	size := typeSize(ncType)
	if offset < 0 || int(offset)+size > len(f.bytes) {
		return 0, fmt.Errorf("variable data out of bounds at offset %d", offset)
	}
	b := f.bytes[offset : int(offset)+size]
	switch ncType {
	case ncByte:
		return float64(int8(b[0])), nil
	case ncShort:
		return float64(int16(binary.BigEndian.Uint16(b))), nil
	case ncInt:
		return float64(int32(binary.BigEndian.Uint32(b))), nil
	case ncFloat:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case ncDouble:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	default:
		return 0, fmt.Errorf("unsupported netCDF numeric type %d", ncType)
	}
}

// Units returns the variable's "units" attribute, or "" if absent.
func (v *cdfVar) Units() string { return v.Attrs["units"] }
