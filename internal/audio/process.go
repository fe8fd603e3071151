package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ApplySpeed changes playback speed by reinterpreting the frames at
// rate*speed and resampling back to the nominal rate. Perceived pitch
// shifts together with the speed; this intentionally mirrors the
// frame-rate trick rather than a pitch-preserving time-stretch.
func ApplySpeed(clip Clip, speed float64) (Clip, error) {
	if speed <= 0 {
		return Clip{}, fmt.Errorf("speed must be positive, got %v", speed)
	}
	if speed == 1.0 {
		return clip, nil
	}

	samples, err := samplesOf(clip)
	if err != nil {
		return Clip{}, err
	}
	channels := clip.Channels
	frames := len(samples) / channels
	if frames == 0 {
		return clip, nil
	}

	outFrames := int(math.Round(float64(frames) / speed))
	if outFrames < 1 {
		outFrames = 1
	}

	out := make([]int16, outFrames*channels)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * speed
		i0 := int(pos)
		if i0 >= frames-1 {
			i0 = frames - 1
		}
		i1 := i0 + 1
		if i1 >= frames {
			i1 = frames - 1
		}
		frac := pos - float64(i0)
		for c := 0; c < channels; c++ {
			a := float64(samples[i0*channels+c])
			b := float64(samples[i1*channels+c])
			out[i*channels+c] = clampSample(a + (b-a)*frac)
		}
	}

	return Clip{SampleRate: clip.SampleRate, Channels: channels, PCM: pcmOf(out)}, nil
}

// Normalize scales the clip so its peak sits just under full scale
// (0.1 dB of headroom), giving consistent playback volume.
func Normalize(clip Clip) (Clip, error) {
	samples, err := samplesOf(clip)
	if err != nil {
		return Clip{}, err
	}

	peak := 0.0
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return clip, nil
	}

	target := float64(math.MaxInt16) * math.Pow(10, -0.1/20)
	gain := target / peak
	if gain == 1.0 {
		return clip, nil
	}

	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clampSample(float64(s) * gain)
	}
	return Clip{SampleRate: clip.SampleRate, Channels: clip.Channels, PCM: pcmOf(out)}, nil
}

const (
	compressThresholdDB = -20.0
	compressRatio       = 4.0
	compressAttack      = 0.005 // seconds
	compressRelease     = 0.050 // seconds
)

// CompressDynamicRange applies mild downward compression above -20 dBFS
// at 4:1 with short attack/release smoothing.
func CompressDynamicRange(clip Clip) (Clip, error) {
	samples, err := samplesOf(clip)
	if err != nil {
		return Clip{}, err
	}
	channels := clip.Channels
	frames := len(samples) / channels
	if frames == 0 {
		return clip, nil
	}

	threshold := float64(math.MaxInt16) * math.Pow(10, compressThresholdDB/20)
	attackCoef := math.Exp(-1 / (float64(clip.SampleRate) * compressAttack))
	releaseCoef := math.Exp(-1 / (float64(clip.SampleRate) * compressRelease))

	out := make([]int16, len(samples))
	env := 0.0
	for i := 0; i < frames; i++ {
		// Envelope tracks the loudest channel in the frame.
		level := 0.0
		for c := 0; c < channels; c++ {
			if a := math.Abs(float64(samples[i*channels+c])); a > level {
				level = a
			}
		}
		if level > env {
			env = attackCoef*env + (1-attackCoef)*level
		} else {
			env = releaseCoef*env + (1-releaseCoef)*level
		}

		gain := 1.0
		if env > threshold {
			gain = (threshold + (env-threshold)/compressRatio) / env
		}
		for c := 0; c < channels; c++ {
			out[i*channels+c] = clampSample(float64(samples[i*channels+c]) * gain)
		}
	}

	return Clip{SampleRate: clip.SampleRate, Channels: channels, PCM: pcmOf(out)}, nil
}

func samplesOf(clip Clip) ([]int16, error) {
	if clip.Channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", clip.Channels)
	}
	if len(clip.PCM)%2 != 0 {
		return nil, fmt.Errorf("odd PCM16 byte count %d", len(clip.PCM))
	}
	samples := make([]int16, len(clip.PCM)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(clip.PCM[i*2:]))
	}
	if len(samples)%clip.Channels != 0 {
		return nil, fmt.Errorf("sample count %d not divisible by %d channels", len(samples), clip.Channels)
	}
	return samples, nil
}

func pcmOf(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func clampSample(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
