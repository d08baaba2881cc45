package openai

import (
	"fmt"

	"github.com/MrWong99/dolmetscher/pkg/audio"
	"layeh.com/gopus"
)

// The media track carries 48 kHz Opus at 20 ms frame size. Both directions
// are handled as mono; the decoder downmixes stereo packets.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
	// opusMaxFrameSize covers the longest Opus packet (120 ms).
	opusMaxFrameSize = opusSampleRate * 120 / 1000
	opusMaxPacket    = 4000
)

// opusDecoder wraps a gopus Opus decoder for the remote track.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("openai: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode turns one Opus packet into a playable mono buffer.
func (d *opusDecoder) decode(packet []byte) (*audio.Buffer, error) {
	pcm, err := d.dec.Decode(packet, opusMaxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("openai: opus decode: %w", err)
	}
	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = audio.PCM16ToFloat(s)
	}
	return &audio.Buffer{Samples: samples, SampleRate: opusSampleRate, Channels: opusChannels}, nil
}

// opusEncoder frames PCM16 into 20 ms Opus packets. Samples that do not fill
// a whole frame are carried over to the next call.
type opusEncoder struct {
	enc      *gopus.Encoder
	residual []int16
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("openai: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, residual: make([]int16, 0, opusFrameSize)}, nil
}

// encode appends pcm to the residual and returns one packet per complete
// frame, in order.
func (e *opusEncoder) encode(pcm []int16) ([][]byte, error) {
	var packets [][]byte
	for len(pcm) > 0 {
		n := min(opusFrameSize-len(e.residual), len(pcm))
		e.residual = append(e.residual, pcm[:n]...)
		pcm = pcm[n:]
		if len(e.residual) < opusFrameSize {
			break
		}
		pkt, err := e.enc.Encode(e.residual, opusFrameSize, opusMaxPacket)
		e.residual = e.residual[:0]
		if err != nil {
			return packets, fmt.Errorf("openai: opus encode: %w", err)
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}
