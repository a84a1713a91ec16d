// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audio

// Stretch linearly resamples interleaved S16 pcm with the given channel count
// to outFrames sample frames, reusing dst when it is large enough.
func Stretch(dst, pcm []int16, channels, outFrames int) []int16 {
	if channels <= 0 || outFrames <= 0 {
		return dst[:0]
	}
	inFrames := len(pcm) / channels
	need := outFrames * channels
	if cap(dst) < need {
		dst = make([]int16, need)
	}
	dst = dst[:need]
	if inFrames == 0 {
		clear(dst)
		return dst
	}
	if inFrames == outFrames {
		copy(dst, pcm[:need])
		return dst
	}

	ratio := float64(inFrames-1) / float64(max(outFrames-1, 1))
	for o := 0; o < outFrames; o++ {
		pos := float64(o) * ratio
		i := int(pos)
		frac := pos - float64(i)
		j := min(i+1, inFrames-1)
		for c := 0; c < channels; c++ {
			a := float64(pcm[i*channels+c])
			b := float64(pcm[j*channels+c])
			dst[o*channels+c] = int16(a + (b-a)*frac)
		}
	}
	return dst
}

// Remix converts interleaved pcm from srcChannels to dstChannels. Mono is
// duplicated, downmix averages pairs, other layouts keep the leading channels.
func Remix(dst, pcm []int16, srcChannels, dstChannels int) []int16 {
	if srcChannels == dstChannels || srcChannels <= 0 || dstChannels <= 0 {
		return append(dst[:0], pcm...)
	}
	frames := len(pcm) / srcChannels
	need := frames * dstChannels
	if cap(dst) < need {
		dst = make([]int16, need)
	}
	dst = dst[:need]
	for f := 0; f < frames; f++ {
		in := pcm[f*srcChannels : (f+1)*srcChannels]
		out := dst[f*dstChannels : (f+1)*dstChannels]
		switch {
		case srcChannels == 1:
			for c := range out {
				out[c] = in[0]
			}
		case dstChannels == 1:
			sum := 0
			for _, s := range in {
				sum += int(s)
			}
			out[0] = int16(sum / srcChannels)
		default:
			for c := range out {
				if c < srcChannels {
					out[c] = in[c]
				} else {
					out[c] = 0
				}
			}
		}
	}
	return dst
}

// Mix adds src scaled by volume/MaxVolume into dst with saturation.
func Mix(dst, src []byte, volume int) {
	n := min(len(dst), len(src)) &^ 1
	for i := 0; i < n; i += 2 {
		d := int(int16(uint16(dst[i]) | uint16(dst[i+1])<<8))
		s := int(int16(uint16(src[i]) | uint16(src[i+1])<<8))
		v := d + s*volume/MaxVolume
		v = max(-32768, min(32767, v))
		dst[i] = byte(v)
		dst[i+1] = byte(v >> 8)
	}
}

func encodeS16(dst []byte, pcm []int16) []byte {
	need := len(pcm) * 2
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	for i, s := range pcm {
		dst[2*i] = byte(s)
		dst[2*i+1] = byte(uint16(s) >> 8)
	}
	return dst
}
