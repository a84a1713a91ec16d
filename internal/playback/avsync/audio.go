// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package avsync

import "math"

// ConfigureAudio resets the audio diff filter for a newly opened audio
// output. threshold is the hardware buffer duration in seconds.
func (e *Engine) ConfigureAudio(sampleRate int, threshold float64) {
	e.audioMu.Lock()
	defer e.audioMu.Unlock()
	e.srcFreq = sampleRate
	e.diffThreshold = threshold
	e.diffCum = 0
	e.diffAvgCount = 0
}

// SynchronizeAudio returns the number of samples the next audio block should
// be stretched or squeezed to so that audio chases the master clock. It is a
// no-op while audio is the master. The result never leaves ±10 % of
// nbSamples.
func (e *Engine) SynchronizeAudio(nbSamples int) int {
	if e.MasterSyncType() == AudioMaster {
		return nbSamples
	}
	diff := e.audclk.Get() - e.MasterClock()

	e.audioMu.Lock()
	defer e.audioMu.Unlock()

	if math.IsNaN(diff) || math.Abs(diff) >= NoSyncThreshold {
		// Too far off to correct, most likely a discontinuity.
		e.diffAvgCount = 0
		e.diffCum = 0
		return nbSamples
	}

	e.diffCum = diff + e.diffAvgCoef*e.diffCum
	if e.diffAvgCount < AudioDiffAvgNB {
		e.diffAvgCount++
		return nbSamples
	}

	avg := e.diffCum * (1.0 - e.diffAvgCoef)
	if math.Abs(avg) < e.diffThreshold {
		return nbSamples
	}
	wanted := nbSamples + int(diff*float64(e.srcFreq))
	lo, hi := SampleBounds(nbSamples)
	return max(lo, min(hi, wanted))
}
