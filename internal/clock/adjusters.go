package clock

import (
	"math"

	"github.com/pimidbox/pimidbox/internal/filter"
	"github.com/pimidbox/pimidbox/internal/message"
)

// IsPlaying reports whether the clock is currently ticking (started
// and not paused).
func (c *Clock) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.paused
}

// ControlAdjusterCCs names the three ControlChange controller numbers
// the clock's dedicated control filter listens on, per spec.md §4.5.
type ControlAdjusterCCs struct {
	PlayPause int
	Stop      int
	Tempo     int
}

// NewControlFilter builds the dedicated MessageType filter spec.md
// §4.5 describes: three adjusters bound to ControlChange that let an
// incoming message on the router's input stream drive this clock's
// transport and tempo, without the clock importing anything from the
// router or filter-pipeline wiring itself.
func NewControlFilter(c *Clock, ccs ControlAdjusterCCs) *filter.Filter {
	f := &filter.Filter{Kind: filter.KindMessageType, Name: "clock-control"}

	playPause := &filter.AdjusterRule{
		Name:     "play-pause",
		Type:     message.TypeControlChange,
		Trigger:  filter.Trigger{"controller": ccs.PlayPause, "value": 127},
		ValueKey: "value",
		Handler: func(_ *filter.Filter, _ int) {
			if c.IsPlaying() {
				c.Pause()
			} else {
				c.Play()
			}
		},
	}

	stop := &filter.AdjusterRule{
		Name:     "stop",
		Type:     message.TypeControlChange,
		Trigger:  filter.Trigger{"controller": ccs.Stop, "value": 127},
		ValueKey: "value",
		Handler:  func(_ *filter.Filter, _ int) { c.Stop() },
	}

	tempo := &filter.AdjusterRule{
		Name:      "tempo",
		Type:      message.TypeControlChange,
		Trigger:   filter.Trigger{"controller": ccs.Tempo},
		ValueKey:  "value",
		PotPickup: true,
		Handler: func(_ *filter.Filter, v int) {
			c.SetTempo(TempoFromCC(v))
		},
	}

	f.Adjusters = []*filter.AdjusterRule{playPause, stop, tempo}
	return f
}

// TempoFromCC implements spec.md §4.5's tempo adjuster formula:
// ((value+1) * (BPM_MAX-BPM_MIN)/128) + BPM_MIN.
func TempoFromCC(value int) int {
	span := float64(BPMMax - BPMMin)
	bpm := math.Round(float64(value+1)*span/128.0) + float64(BPMMin)
	return int(bpm)
}
