// Package analyze holds the pure numeric half of the capture pipeline:
// per-channel statistics, channel-layout inference and the mono downmix.
// Everything here operates on interleaved signed 16-bit samples shaped
// (frame, channel) and carries no state, so callers are free to process
// a recording in blocks of any size and get bit-identical results.
package analyze

import (
	"encoding/binary"
	"math"
)

const (
	Int16Max = 32767
	Int16Min = -32768

	// eps guards denominators and sqrt domains for silent channels.
	eps = 1e-12
)

// Layout describes how the physical inputs of an aggregate device map
// onto channel indices for one capture. Device wiring can change
// between runs, so a Layout is recomputed per finalize and never
// persisted.
type Layout struct {
	TotalChannels int
	SystemPair    *[2]int // most-correlated pair, interpreted as stereo system audio
	MicIndex      *int    // leftover channel when TotalChannels == 3 and a pair was found
}

// ToSamples reinterprets raw little-endian PCM bytes as int16 samples,
// zero-padding so the result is a whole number of frames. The final
// chunk of a live capture frequently lands mid-frame; it is padded,
// never dropped.
func ToSamples(raw []byte, channels int) []int16 {
	if channels < 1 {
		channels = 1
	}
	n := (len(raw) + 1) / 2
	samples := make([]int16, n)
	for i := 0; i+1 < len(raw); i += 2 {
		samples[i/2] = int16(binary.LittleEndian.Uint16(raw[i:]))
	}
	if len(raw)%2 != 0 {
		// dangling low byte of a truncated sample
		samples[n-1] = int16(uint16(raw[len(raw)-1]))
	}
	if rem := len(samples) % channels; rem != 0 {
		samples = append(samples, make([]int16, channels-rem)...)
	}
	return samples
}

// SamplesToBytes is the inverse of ToSamples for whole frames.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMS returns the root-mean-square level per channel.
func RMS(samples []int16, channels int) []float64 {
	if channels < 1 {
		channels = 1
	}
	frames := len(samples) / channels
	out := make([]float64, channels)
	if frames == 0 {
		for c := range out {
			out[c] = math.Sqrt(eps)
		}
		return out
	}
	for c := 0; c < channels; c++ {
		var sum float64
		for f := 0; f < frames; f++ {
			v := float64(samples[f*channels+c])
			sum += v * v
		}
		out[c] = math.Sqrt(sum/float64(frames) + eps)
	}
	return out
}

// CorrelationMatrix returns the Pearson correlation between every pair
// of mean-centered channels. The matrix is symmetric with a unit
// diagonal; denominators are epsilon-guarded so two silent channels
// produce a finite value rather than NaN.
func CorrelationMatrix(samples []int16, channels int) [][]float64 {
	if channels < 1 {
		channels = 1
	}
	frames := len(samples) / channels
	m := make([][]float64, channels)
	for i := range m {
		m[i] = make([]float64, channels)
		m[i][i] = 1.0
	}
	if frames == 0 || channels < 2 {
		return m
	}

	means := make([]float64, channels)
	for c := 0; c < channels; c++ {
		var sum float64
		for f := 0; f < frames; f++ {
			sum += float64(samples[f*channels+c])
		}
		means[c] = sum / float64(frames)
	}
	denoms := make([]float64, channels)
	for c := 0; c < channels; c++ {
		var sum float64
		for f := 0; f < frames; f++ {
			d := float64(samples[f*channels+c]) - means[c]
			sum += d * d
		}
		denoms[c] = math.Sqrt(sum + eps)
	}

	for i := 0; i < channels; i++ {
		for j := i + 1; j < channels; j++ {
			var num float64
			for f := 0; f < frames; f++ {
				ai := float64(samples[f*channels+i]) - means[i]
				bj := float64(samples[f*channels+j]) - means[j]
				num += ai * bj
			}
			v := num / (denoms[i]*denoms[j] + eps)
			m[i][j] = v
			m[j][i] = v
		}
	}
	return m
}

// PickSystemPair returns the channel pair with the highest off-diagonal
// correlation. Ties go to the first pair in ascending index order. The
// heuristic is best-effort: a near-zero maximum still wins.
func PickSystemPair(samples []int16, channels int) (int, int, bool) {
	if channels < 2 {
		return 0, 0, false
	}
	m := CorrelationMatrix(samples, channels)
	bestI, bestJ, bestVal := 0, 1, math.Inf(-1)
	for i := 0; i < channels; i++ {
		for j := i + 1; j < channels; j++ {
			if m[i][j] > bestVal {
				bestVal = m[i][j]
				bestI, bestJ = i, j
			}
		}
	}
	return bestI, bestJ, true
}

// DetectLayout infers the system-audio stereo pair and the mic channel
// from sample correlation. For 2-channel input the pair is simply
// (0, 1); the mic channel is only inferred for 3-channel captures where
// exactly one channel is left over.
func DetectLayout(samples []int16, channels int) Layout {
	l := Layout{TotalChannels: channels}
	switch {
	case channels == 2:
		l.SystemPair = &[2]int{0, 1}
	case channels >= 3:
		if i, j, ok := PickSystemPair(samples, channels); ok {
			l.SystemPair = &[2]int{i, j}
			if channels == 3 {
				for k := 0; k < channels; k++ {
					if k != i && k != j {
						mic := k
						l.MicIndex = &mic
						break
					}
				}
			}
		}
	}
	return l
}

// DownmixToMono reduces interleaved multi-channel samples to one sample
// per frame by arithmetic mean. Accumulation happens in float64, the
// mean is clipped to the int16 range and rounded before the cast; an
// integer mean would wrap on hot frames.
func DownmixToMono(samples []int16, channels int) []int16 {
	if channels < 1 {
		channels = 1
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(samples[f*channels+c])
		}
		mean := sum / float64(channels)
		if mean > Int16Max {
			mean = Int16Max
		} else if mean < Int16Min {
			mean = Int16Min
		}
		out[f] = int16(math.Round(mean))
	}
	return out
}

// ExtractChannels copies the given channel indices out of interleaved
// samples, preserving frame order. Used for the system/mic stem files.
func ExtractChannels(samples []int16, channels int, idx ...int) []int16 {
	if channels < 1 || len(idx) == 0 {
		return nil
	}
	frames := len(samples) / channels
	out := make([]int16, 0, frames*len(idx))
	for f := 0; f < frames; f++ {
		for _, c := range idx {
			out = append(out, samples[f*channels+c])
		}
	}
	return out
}
