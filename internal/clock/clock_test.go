package clock

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pimidbox/pimidbox/internal/registry"
)

type fakeOutput struct {
	name string
	sent [][]byte
}

func (f *fakeOutput) Name() string     { return f.name }
func (f *fakeOutput) Port() int        { return 0 }
func (f *fakeOutput) Nickname() string { return f.name }
func (f *fakeOutput) IsOpen() bool     { return true }
func (f *fakeOutput) Close() error     { return nil }
func (f *fakeOutput) Send(data []byte) error {
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

var _ registry.Output = (*fakeOutput)(nil)

func TestClipTempo(t *testing.T) {
	cases := map[int]int{59: 60, 301: 300, 120: 120, 60: 60, 300: 300}
	for in, want := range cases {
		if got := ClipTempo(in); got != want {
			t.Errorf("ClipTempo(%d) = %d, want %d", in, got, want)
		}
	}
}

// TestTickLength is spec.md §8 scenario 5.
func TestTickLength(t *testing.T) {
	got := TickLength(120, 24)
	want := 20_833_333 * time.Nanosecond
	if got != want {
		t.Fatalf("TickLength(120, 24) = %s, want %s", got, want)
	}
}

func TestTickLengthInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("tickLengthNs * (bpm*ppqn) = 60e9 within rounding", prop.ForAll(
		func(bpm, ppqn int) bool {
			tl := TickLength(bpm, ppqn)
			product := tl.Nanoseconds() * int64(bpm*ppqn)
			diff := product - 60_000_000_000
			if diff < 0 {
				diff = -diff
			}
			// Integer division rounds down by up to (bpm*ppqn - 1) ns total.
			return diff < int64(bpm*ppqn)
		},
		gen.IntRange(BPMMin, BPMMax),
		gen.IntRange(1, 960),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestTickDerivedPositions(t *testing.T) {
	tick := Tick{Position: 96, PPQN: 24, PatternLength: 4}
	if tick.WholeNote() != 1 {
		t.Errorf("WholeNote() = %d, want 1", tick.WholeNote())
	}
	for _, pos := range []int{0, 24, 48, 72} {
		q := Tick{Position: pos, PPQN: 24}
		if !q.IsQuarterNote() {
			t.Errorf("position %d should be a quarter-note boundary", pos)
		}
	}
	if (Tick{Position: 10, PPQN: 24}).IsQuarterNote() {
		t.Error("position 10 should not be a quarter-note boundary")
	}
}

func TestTap_RequiresThreeEntries(t *testing.T) {
	c := New(24, 120, 4, nil)
	base := time.Unix(0, 0)

	c.Tap(base)
	if c.Tempo() != 120 {
		t.Fatalf("one tap should be a no-op, tempo = %d", c.Tempo())
	}
	c.Tap(base.Add(500 * time.Millisecond))
	if c.Tempo() != 120 {
		t.Fatalf("two taps should be a no-op, tempo = %d", c.Tempo())
	}
}

// TestTap_FourTapsAt500ms is spec.md §8 scenario 6.
func TestTap_FourTapsAt500ms(t *testing.T) {
	c := New(24, 90, 4, nil)
	base := time.Unix(0, 0)

	c.Tap(base)
	c.Tap(base.Add(500 * time.Millisecond))
	c.Tap(base.Add(1000 * time.Millisecond))
	if c.Tempo() != 120 {
		t.Fatalf("tempo after third tap = %d, want 120", c.Tempo())
	}

	c.Tap(base.Add(1500 * time.Millisecond))
	if c.Tempo() != 120 {
		t.Fatalf("tempo after fourth tap = %d, want 120", c.Tempo())
	}
}

func TestTap_DiscardsGapsOverThreeSeconds(t *testing.T) {
	c := New(24, 100, 4, nil)
	base := time.Unix(0, 0)

	c.Tap(base)
	c.Tap(base.Add(500 * time.Millisecond))
	c.Tap(base.Add(5 * time.Second)) // gap > 3s from the previous tap, discarded
	if c.Tempo() != 100 {
		t.Fatalf("a lone surviving interval (<2 kept) should be a no-op, tempo = %d", c.Tempo())
	}
}

func TestTempoFromCC(t *testing.T) {
	// value=0 -> ((0+1)*240/128)+60 = round(1.875)+60 = 2+60 = 62
	if got := TempoFromCC(0); got != 62 {
		t.Errorf("TempoFromCC(0) = %d, want 62", got)
	}
	if got := TempoFromCC(127); got != 300 {
		t.Errorf("TempoFromCC(127) = %d, want 300", got)
	}
}

func TestClockPlayStopEmitsRealtimeBytes(t *testing.T) {
	out := &fakeOutput{name: "O"}
	c := New(24, 300, 4, []registry.Output{out})

	c.Play()
	time.Sleep(50 * time.Millisecond)
	c.Stop()
	time.Sleep(20 * time.Millisecond)
	c.Shutdown()

	if len(out.sent) < 2 {
		t.Fatalf("expected at least a Start and a Stop byte, got %v", out.sent)
	}
	if out.sent[0][0] != 0xFA {
		t.Fatalf("first byte = %#x, want Start (0xFA)", out.sent[0][0])
	}
	last := out.sent[len(out.sent)-1]
	if last[0] != 0xFC {
		t.Fatalf("last byte = %#x, want Stop (0xFC)", last[0])
	}

	sawClock := false
	for _, b := range out.sent[1 : len(out.sent)-1] {
		if b[0] == 0xF8 {
			sawClock = true
		}
	}
	if !sawClock {
		t.Error("expected at least one Clock (0xF8) byte between Start and Stop")
	}
}

func TestClockPauseThenResumeEmitsContinue(t *testing.T) {
	out := &fakeOutput{name: "O"}
	c := New(24, 300, 4, []registry.Output{out})

	c.Play()
	time.Sleep(20 * time.Millisecond)
	c.Pause()
	time.Sleep(10 * time.Millisecond)
	c.Play()
	time.Sleep(20 * time.Millisecond)
	c.Shutdown()

	sawContinue := false
	for _, b := range out.sent {
		if b[0] == 0xFB {
			sawContinue = true
		}
	}
	if !sawContinue {
		t.Error("expected a Continue (0xFB) byte after resuming from pause")
	}
}
