package codec

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRate     = errors.New("codec: sample rate must be positive")
	ErrUnsupportedRate = errors.New("codec: sample rates must be an integer ratio")
)

// Resample converts between rates whose ratio is an integer. Downsampling keeps
// every Nth sample, upsampling repeats each sample N times. No filtering is
// applied; telephony band-limits the signal already.
func Resample(pcm []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, ErrInvalidRate
	}
	switch {
	case fromRate == toRate:
		return append([]int16(nil), pcm...), nil
	case fromRate > toRate:
		if fromRate%toRate != 0 {
			return nil, fmt.Errorf("%w: %d -> %d", ErrUnsupportedRate, fromRate, toRate)
		}
		step := fromRate / toRate
		out := make([]int16, 0, (len(pcm)+step-1)/step)
		for i := 0; i < len(pcm); i += step {
			out = append(out, pcm[i])
		}
		return out, nil
	default:
		if toRate%fromRate != 0 {
			return nil, fmt.Errorf("%w: %d -> %d", ErrUnsupportedRate, fromRate, toRate)
		}
		factor := toRate / fromRate
		out := make([]int16, 0, len(pcm)*factor)
		for _, s := range pcm {
			for j := 0; j < factor; j++ {
				out = append(out, s)
			}
		}
		return out, nil
	}
}

// ratio returns the integer decimation step for fromRate -> toRate, or 1.
func ratio(fromRate, toRate int) int {
	if fromRate > toRate && toRate > 0 && fromRate%toRate == 0 {
		return fromRate / toRate
	}
	return 1
}
