package beepengine

import "github.com/gopxl/beep/v2"

// stereoGain scales the left and right channels independently.
type stereoGain struct {
	Streamer beep.Streamer
	Left     float64
	Right    float64
}

func (g *stereoGain) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = g.Streamer.Stream(samples)
	for i := range samples[:n] {
		samples[i][0] *= g.Left
		samples[i][1] *= g.Right
	}
	return n, ok
}

func (g *stereoGain) Err() error {
	return g.Streamer.Err()
}
