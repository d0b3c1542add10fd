// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// ErrMalformedVector is returned when a persisted vector cannot be decoded
var ErrMalformedVector = errors.New("malformed embedding vector")

// Float32SliceToBlob converts a float32 slice to a little-endian byte slice
func Float32SliceToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// BlobToFloat32Slice converts a byte slice back to float32 slice.
// Returns nil when the length is not a multiple of four.
func BlobToFloat32Slice(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// DecodeVector decodes a stored blob and checks it against the expected dimension.
// Absent, truncated, non-finite or wrongly sized vectors yield ErrMalformedVector.
func DecodeVector(blob []byte, dims int) ([]float32, error) {
	if len(blob) == 0 {
		return nil, goerr.Wrap(ErrMalformedVector, "vector is absent")
	}

	v := BlobToFloat32Slice(blob)
	if v == nil {
		return nil, goerr.Wrap(ErrMalformedVector, "invalid vector blob length", goerr.V("bytes", len(blob)))
	}
	if len(v) != dims {
		return nil, goerr.Wrap(ErrMalformedVector, "vector dimension mismatch",
			goerr.V("expected", dims), goerr.V("actual", len(v)))
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, goerr.Wrap(ErrMalformedVector, "non-finite vector component", goerr.V("index", i))
		}
	}
	return v, nil
}
