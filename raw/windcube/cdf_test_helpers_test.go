package windcube

// This file builds minimal classic-format (CDF-1) netCDF byte streams for
// tests. It mirrors, in reverse, the decoder in netcdf.go: fixed (non-record)
// dimensions only, NC_DOUBLE variables with a single "units" NC_CHAR
// attribute, which is everything DecodeRecord needs from a sweep-group file.

import (
	"bytes"
	"encoding/binary"
	"math"
)

type testDim struct {
	name   string
	length int
}

type testVar struct {
	name   string
	dims   []int // indices into the dims slice passed to buildCDF1
	units  string
	values []float64
}

func buildCDF1(dims []testDim, vars []testVar) []byte {
	var header bytes.Buffer
	header.WriteString("CDF")
	header.WriteByte(1)
	writeU32(&header, 0) // numrecs

	if len(dims) == 0 {
		writeU32(&header, 0)
		writeU32(&header, 0)
	} else {
		writeU32(&header, 0x0A)
		writeU32(&header, uint32(len(dims)))
		for _, d := range dims {
			writeName(&header, d.name)
			writeU32(&header, uint32(d.length))
		}
	}

	writeU32(&header, 0) // gatt_list: absent
	writeU32(&header, 0)

	if len(vars) == 0 {
		writeU32(&header, 0)
		writeU32(&header, 0)
	} else {
		writeU32(&header, 0x0B)
		writeU32(&header, uint32(len(vars)))
	}

	beginOffsets := make([]int, len(vars))
	for i, v := range vars {
		writeName(&header, v.name)
		writeU32(&header, uint32(len(v.dims)))
		for _, d := range v.dims {
			writeU32(&header, uint32(d))
		}
		writeU32(&header, 1) // vatt_list tag: NC_ATTRIBUTE
		writeU32(&header, 1) // one attribute: units
		writeName(&header, "units")
		writeU32(&header, 2) // NC_CHAR
		writeU32(&header, uint32(len(v.units)))
		header.WriteString(v.units)
		padTo4(&header, len(v.units))

		writeU32(&header, 6) // NC_DOUBLE
		vsize := 8
		if len(v.dims) > 0 {
			for _, d := range v.dims[1:] {
				vsize *= dims[d].length
			}
		}
		writeU32(&header, uint32(vsize))
		beginOffsets[i] = header.Len()
		writeU32(&header, 0) // begin, patched below
	}

	out := header.Bytes()
	var data bytes.Buffer
	for i, v := range vars {
		begin := len(out) + data.Len()
		binary.BigEndian.PutUint32(out[beginOffsets[i]:], uint32(begin))
		for _, f := range v.values {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
			data.Write(buf[:])
		}
		padTo4(&data, len(v.values)*8)
	}
	return append(out, data.Bytes()...)
}

func writeU32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func writeName(b *bytes.Buffer, s string) {
	writeU32(b, uint32(len(s)))
	b.WriteString(s)
	padTo4(b, len(s))
}

func padTo4(b *bytes.Buffer, n int) {
	if rem := n % 4; rem != 0 {
		for i := 0; i < 4-rem; i++ {
			b.WriteByte(0)
		}
	}
}
