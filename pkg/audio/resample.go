package audio

// ResampledLen returns the number of output samples produced when n samples
// at srcRate are resampled to dstRate: ceil(n*dstRate/srcRate). Equal rates
// return n.
func ResampledLen(n, srcRate, dstRate int) int {
	if n <= 0 || srcRate <= 0 || dstRate <= 0 {
		return 0
	}
	if srcRate == dstRate {
		return n
	}
	num := int64(n) * int64(dstRate)
	return int((num + int64(srcRate) - 1) / int64(srcRate))
}

// Resample converts mono float samples from srcRate to dstRate using linear
// interpolation and writes the result into dst, which must have room for
// [ResampledLen] samples. It returns the populated prefix of dst. When the
// rates are equal src is returned unchanged and dst is untouched.
//
// There is no anti-aliasing filter. Content above the target Nyquist
// frequency folds back; this is acceptable for speech-band capture only.
func Resample(dst, src []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return src
	}
	n := ResampledLen(len(src), srcRate, dstRate)
	if n == 0 {
		return dst[:0]
	}
	dst = dst[:n]
	last := len(src) - 1
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			dst[i] = src[last]
			continue
		}
		frac := float32(pos - float64(idx))
		dst[i] = src[idx]*(1-frac) + src[idx+1]*frac
	}
	return dst
}

// ResampleBuffer returns a copy of buf converted to dstRate. Channels are
// resampled independently. When the rate already matches buf is returned.
func ResampleBuffer(buf *Buffer, dstRate int) *Buffer {
	if buf == nil || buf.SampleRate == dstRate || buf.Channels <= 0 {
		return buf
	}
	if buf.Channels == 1 {
		out := make([]float32, ResampledLen(len(buf.Samples), buf.SampleRate, dstRate))
		return &Buffer{Samples: Resample(out, buf.Samples, buf.SampleRate, dstRate), SampleRate: dstRate, Channels: 1}
	}

	frames := buf.Frames()
	outFrames := ResampledLen(frames, buf.SampleRate, dstRate)
	plane := make([]float32, frames)
	scratch := make([]float32, outFrames)
	out := make([]float32, outFrames*buf.Channels)
	for c := range buf.Channels {
		for f := range frames {
			plane[f] = buf.Samples[f*buf.Channels+c]
		}
		res := Resample(scratch, plane, buf.SampleRate, dstRate)
		for f, s := range res {
			out[f*buf.Channels+c] = s
		}
	}
	return &Buffer{Samples: out, SampleRate: dstRate, Channels: buf.Channels}
}
