package classifier

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/mdobak/go-xerrors"

	"github.com/Brownie44l1/imageclf/internal/inference"
	"github.com/Brownie44l1/imageclf/internal/model"
)

// decode zips the score and index outputs into a ResultMap. Order and count
// are whatever the model produced; nothing is sorted or thresholded.
func decode(scores []float32, indices []int64, categories model.CategoryTable) (model.ResultMap, error) {
	if len(scores) != len(indices) {
		return nil, xerrors.Newf("%d scores but %d indices: %w",
			len(scores), len(indices), inference.ErrUnexpectedOutput)
	}
	result := make(model.ResultMap, len(scores))
	for i, idx := range indices {
		result[categories.Lookup(idx)] = scores[i]
	}
	return result, nil
}

// fingerprint hashes a prepared input buffer for the result cache.
func fingerprint(data []float32) uint64 {
	d := xxhash.New()
	var b [4]byte
	for _, v := range data {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		d.Write(b[:])
	}
	return d.Sum64()
}
