package analyze

import (
	"bytes"
	"math"
	"math/rand"
	"testing"
)

func interleave(chans ...[]int16) []int16 {
	frames := len(chans[0])
	out := make([]int16, 0, frames*len(chans))
	for f := 0; f < frames; f++ {
		for _, ch := range chans {
			out = append(out, ch[f])
		}
	}
	return out
}

func sine(frames int, freq, rate float64, amp int16) []int16 {
	out := make([]int16, frames)
	for i := range out {
		out[i] = int16(float64(amp) * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return out
}

func noise(frames int, seed int64) []int16 {
	r := rand.New(rand.NewSource(seed))
	out := make([]int16, frames)
	for i := range out {
		out[i] = int16(r.Intn(20000) - 10000)
	}
	return out
}

func TestToSamplesPadsPartialFrame(t *testing.T) {
	// 7 samples over 3 channels: 2 full frames + 1 dangling sample
	raw := SamplesToBytes([]int16{1, 2, 3, 4, 5, 6, 7})
	samples := ToSamples(raw, 3)
	if len(samples)%3 != 0 {
		t.Fatalf("len = %d, want multiple of 3", len(samples))
	}
	if len(samples) != 9 {
		t.Fatalf("len = %d, want 9", len(samples))
	}
	if samples[6] != 7 || samples[7] != 0 || samples[8] != 0 {
		t.Errorf("tail = %v, want [7 0 0]", samples[6:])
	}
}

func TestToSamplesOddByteCount(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03} // one full sample + dangling byte
	samples := ToSamples(raw, 1)
	if len(samples) != 2 {
		t.Fatalf("len = %d, want 2", len(samples))
	}
	if samples[1] != 3 {
		t.Errorf("padded sample = %d, want 3", samples[1])
	}
}

func TestDownmixLengthAndRange(t *testing.T) {
	for _, channels := range []int{1, 2, 3, 4, 8} {
		frames := 500
		samples := make([]int16, frames*channels)
		r := rand.New(rand.NewSource(int64(channels)))
		for i := range samples {
			samples[i] = int16(r.Intn(65536) - 32768)
		}
		mono := DownmixToMono(samples, channels)
		if len(mono) != frames {
			t.Errorf("channels=%d: len = %d, want %d", channels, len(mono), frames)
		}
	}
}

func TestDownmixIdenticalChannels(t *testing.T) {
	ch := sine(1000, 440, 44100, 12000)
	samples := interleave(ch, ch)
	mono := DownmixToMono(samples, 2)
	for i := range ch {
		if mono[i] != ch[i] {
			t.Fatalf("frame %d: got %d, want %d", i, mono[i], ch[i])
		}
	}
}

func TestDownmixClipsExtremes(t *testing.T) {
	samples := []int16{Int16Min, Int16Min, Int16Max, Int16Max}
	mono := DownmixToMono(samples, 2)
	if mono[0] != Int16Min {
		t.Errorf("frame 0 = %d, want %d", mono[0], Int16Min)
	}
	if mono[1] != Int16Max {
		t.Errorf("frame 1 = %d, want %d", mono[1], Int16Max)
	}
}

func TestDownmixBlockIndependence(t *testing.T) {
	const channels = 3
	samples := interleave(noise(4096, 1), noise(4096, 2), sine(4096, 330, 48000, 9000))
	whole := DownmixToMono(samples, channels)

	for _, blockFrames := range []int{1, 7, 128, 1000, 4096} {
		var pieced []int16
		for off := 0; off < len(samples); off += blockFrames * channels {
			end := off + blockFrames*channels
			if end > len(samples) {
				end = len(samples)
			}
			pieced = append(pieced, DownmixToMono(samples[off:end], channels)...)
		}
		if !bytes.Equal(SamplesToBytes(whole), SamplesToBytes(pieced)) {
			t.Errorf("blockFrames=%d: chunked downmix differs from single pass", blockFrames)
		}
	}
}

func TestCorrelationMatrixSymmetricUnitDiagonal(t *testing.T) {
	samples := interleave(noise(2000, 3), noise(2000, 4), noise(2000, 5))
	m := CorrelationMatrix(samples, 3)
	for i := 0; i < 3; i++ {
		if m[i][i] != 1.0 {
			t.Errorf("diagonal [%d][%d] = %v, want 1.0", i, i, m[i][i])
		}
		for j := 0; j < 3; j++ {
			if m[i][j] != m[j][i] {
				t.Errorf("asymmetry at [%d][%d]: %v vs %v", i, j, m[i][j], m[j][i])
			}
			if math.IsNaN(m[i][j]) || math.IsInf(m[i][j], 0) {
				t.Errorf("[%d][%d] = %v, want finite", i, j, m[i][j])
			}
		}
	}
}

func TestCorrelationSilentChannelsFinite(t *testing.T) {
	silent := make([]int16, 1000)
	m := CorrelationMatrix(interleave(silent, silent), 2)
	if math.IsNaN(m[0][1]) || math.IsInf(m[0][1], 0) {
		t.Fatalf("silent pair correlation = %v, want finite", m[0][1])
	}
}

func TestPickSystemPairFindsCorrelated(t *testing.T) {
	left := sine(3000, 440, 44100, 10000)
	right := make([]int16, len(left))
	for i, s := range left {
		right[i] = s/2 + int16(i%3) // correlated but not identical
	}
	mic := noise(3000, 42)

	samples := interleave(mic, left, right)
	i, j, ok := PickSystemPair(samples, 3)
	if !ok {
		t.Fatal("expected a pair")
	}
	if i != 1 || j != 2 {
		t.Errorf("pair = (%d,%d), want (1,2)", i, j)
	}
}

func TestPickSystemPairTooFewChannels(t *testing.T) {
	if _, _, ok := PickSystemPair(sine(100, 440, 44100, 1000), 1); ok {
		t.Error("expected no pair for mono input")
	}
}

func TestPickSystemPairTieBreakAscending(t *testing.T) {
	silent := make([]int16, 500)
	// All correlations equal; the first pair in ascending order wins.
	i, j, ok := PickSystemPair(interleave(silent, silent, silent), 3)
	if !ok || i != 0 || j != 1 {
		t.Errorf("pair = (%d,%d,%v), want (0,1,true)", i, j, ok)
	}
}

func TestDetectLayout(t *testing.T) {
	left := sine(3000, 440, 44100, 10000)
	right := make([]int16, len(left))
	for i, s := range left {
		right[i] = s / 2
	}
	mic := noise(3000, 7)

	l := DetectLayout(interleave(left, right, mic), 3)
	if l.SystemPair == nil || l.SystemPair[0] != 0 || l.SystemPair[1] != 1 {
		t.Fatalf("system pair = %v, want (0,1)", l.SystemPair)
	}
	if l.MicIndex == nil || *l.MicIndex != 2 {
		t.Fatalf("mic index = %v, want 2", l.MicIndex)
	}
	if l.SystemPair[0] == *l.MicIndex || l.SystemPair[1] == *l.MicIndex {
		t.Error("mic index overlaps system pair")
	}

	stereo := DetectLayout(interleave(left, right), 2)
	if stereo.SystemPair == nil || stereo.SystemPair[0] != 0 || stereo.SystemPair[1] != 1 {
		t.Errorf("2ch system pair = %v, want (0,1)", stereo.SystemPair)
	}
	if stereo.MicIndex != nil {
		t.Error("2ch capture should have no mic index")
	}
}

func TestRMSPerChannel(t *testing.T) {
	loud := sine(4410, 440, 44100, 20000)
	quiet := make([]int16, len(loud))
	rms := RMS(interleave(loud, quiet), 2)
	if rms[0] < 10000 {
		t.Errorf("loud channel RMS = %v, want > 10000", rms[0])
	}
	if rms[1] > 1 {
		t.Errorf("silent channel RMS = %v, want ~0", rms[1])
	}
	if math.IsNaN(rms[1]) {
		t.Error("silent channel RMS is NaN")
	}
}

func TestExtractChannels(t *testing.T) {
	samples := []int16{1, 2, 3, 4, 5, 6} // two frames of 3 channels
	pair := ExtractChannels(samples, 3, 0, 2)
	want := []int16{1, 3, 4, 6}
	for i := range want {
		if pair[i] != want[i] {
			t.Fatalf("got %v, want %v", pair, want)
		}
	}
}
