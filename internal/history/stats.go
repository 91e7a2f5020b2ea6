package history

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises one series. All fields are zero for an empty series.
type Stats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Latest float64 `json:"latest"`
	Count  int     `json:"count"`
}

// ComputeStats summarises the finite entries of values, which must be in
// chronological order for Latest to be meaningful. NaN marks a missing
// reading and is not counted.
func ComputeStats(values []float64) Stats {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return Stats{}
	}
	return Stats{
		Min:    floats.Min(finite),
		Max:    floats.Max(finite),
		Mean:   stat.Mean(finite, nil),
		Latest: finite[len(finite)-1],
		Count:  len(finite),
	}
}

// Stats summarises one channel.
func (b *Buffer) Stats(c Channel) Stats {
	return ComputeStats(b.Series(c))
}

// AllStats summarises every channel from one snapshot.
func (b *Buffer) AllStats() map[Channel]Stats {
	snap := b.Snapshot()
	out := make(map[Channel]Stats, NumChannels)
	for c, values := range snap.Series {
		out[c] = ComputeStats(values)
	}
	return out
}
