package lightshow

import (
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Drewsername/localweb/internal/dsp"
)

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"off", "pulse", "ambient", "party"} {
		mode, err := ParseMode(valid)
		require.NoError(t, err)
		assert.Equal(t, Mode(valid), mode)
	}

	_, err := ParseMode("disco")
	assert.True(t, eris.Is(err, ErrBadMode))

	_, err = ParseMode("")
	assert.True(t, eris.Is(err, ErrBadMode))
}

func TestPulseBeatBrightness(t *testing.T) {
	st := &showState{}
	frame := dsp.Frame{RMS: 0.1, Beat: true}

	targets := pulseTargets(st, frame, 10, 2)
	require.Len(t, targets, 2)

	// Full intensity on a beat requests full brightness on both lamps.
	assert.Equal(t, 100, targets[0].Brightness)
	assert.Equal(t, targets[0], targets[1])
	assert.InDelta(t, 0.08, st.huePhase, 1e-9)
}

func TestPulseQuietFloor(t *testing.T) {
	st := &showState{}
	frame := dsp.Frame{RMS: 0}

	targets := pulseTargets(st, frame, 7, 2)
	require.Len(t, targets, 2)

	// rms 0 clamps to the 20-brightness floor, scaled by intensity.
	assert.Equal(t, 14, targets[0].Brightness)
}

func TestPulseBrightnessRange(t *testing.T) {
	for _, rms := range []float64{0, 0.05, 0.1, 0.2, 0.5, 1} {
		st := &showState{}
		targets := pulseTargets(st, dsp.Frame{RMS: rms}, 7, 2)

		assert.GreaterOrEqual(t, targets[0].Brightness, 14)
		assert.LessOrEqual(t, targets[0].Brightness, 49)
	}
}

func TestPulseLowIntensityCap(t *testing.T) {
	for _, frame := range []dsp.Frame{
		{RMS: 0.9, Beat: true},
		{RMS: 0.9},
		{RMS: 0.01},
	} {
		st := &showState{}
		targets := pulseTargets(st, frame, 1, 2)
		assert.LessOrEqual(t, targets[0].Brightness, 10)
	}
}

func TestAmbientComplementaryHues(t *testing.T) {
	st := &showState{huePhase: 0.2}
	frame := dsp.Frame{RMS: 0.1}

	targets := ambientTargets(st, frame, 5, 2)
	require.Len(t, targets, 2)

	e := math.Min(1, frame.RMS*5)
	saturation := 0.4 + 0.3*e
	r0, g0, b0 := HSVToRGB(st.huePhase, saturation, 1)
	r1, g1, b1 := HSVToRGB(st.huePhase+0.5, saturation, 1)

	assert.Equal(t, LampCommand{R: r0, G: g0, B: b0, Brightness: targets[0].Brightness}, targets[0])
	assert.Equal(t, LampCommand{R: r1, G: g1, B: b1, Brightness: targets[1].Brightness}, targets[1])
	assert.Equal(t, targets[0].Brightness, targets[1].Brightness)
}

func TestAmbientBrightnessTracksEnergy(t *testing.T) {
	quiet := ambientTargets(&showState{}, dsp.Frame{RMS: 0}, 10, 2)
	loud := ambientTargets(&showState{}, dsp.Frame{RMS: 1}, 10, 2)

	assert.Equal(t, 30, quiet[0].Brightness)
	assert.Equal(t, 80, loud[0].Brightness)
}

func TestPartyBeatAlternation(t *testing.T) {
	st := &showState{beatCount: 0}
	even := partyTargets(st, dsp.Frame{RMS: 0.05, Beat: true}, 10, 2)
	require.Len(t, even, 2)
	assert.Equal(t, 100, even[0].Brightness)
	assert.Equal(t, 40, even[1].Brightness)

	st.beatCount = 1
	odd := partyTargets(st, dsp.Frame{RMS: 0.05, Beat: true}, 10, 2)
	assert.Equal(t, 40, odd[0].Brightness)
	assert.Equal(t, 100, odd[1].Brightness)
}

func TestPartyEnergySpikeStrobe(t *testing.T) {
	st := &showState{}
	targets := partyTargets(st, dsp.Frame{RMS: 0.5}, 10, 2)

	for _, cmd := range targets {
		assert.Equal(t, uint8(255), cmd.R)
		assert.Equal(t, uint8(255), cmd.G)
		assert.Equal(t, uint8(255), cmd.B)
		assert.Equal(t, 100, cmd.Brightness)
	}
}

func TestPartyBeatWinsOverSpike(t *testing.T) {
	// An iteration that is both a beat and an energy spike takes the beat
	// branch; the strobe is unreachable there.
	st := &showState{}
	targets := partyTargets(st, dsp.Frame{RMS: 0.5, Beat: true}, 10, 2)

	assert.NotEqual(t, uint8(255), targets[0].G)
	assert.InDelta(t, 0.15, st.huePhase, 1e-9)
}

func TestPartyIdleFloor(t *testing.T) {
	st := &showState{}
	targets := partyTargets(st, dsp.Frame{RMS: 0}, 10, 2)

	assert.Equal(t, 10, targets[0].Brightness)
	assert.Equal(t, targets[0], targets[1])
}

func TestPatternPulseBreathes(t *testing.T) {
	st := &showState{}

	low := patternTargets(ModePulse, st, 3*math.Pi/4, 7, 2) // sin(2t) = -1
	assert.Equal(t, 10, low[0].Brightness)

	st = &showState{}
	high := patternTargets(ModePulse, st, math.Pi/4, 7, 2) // sin(2t) = 1
	assert.Equal(t, 70, high[0].Brightness)
}

func TestPatternAmbientComplementary(t *testing.T) {
	st := &showState{huePhase: 0.4}
	targets := patternTargets(ModeAmbient, st, 1, 3, 2)
	require.Len(t, targets, 2)

	r0, g0, b0 := HSVToRGB(st.huePhase, 0.6, 1)
	r1, g1, b1 := HSVToRGB(st.huePhase+0.5, 0.6, 1)
	assert.Equal(t, LampCommand{R: r0, G: g0, B: b0, Brightness: 50}, targets[0])
	assert.Equal(t, LampCommand{R: r1, G: g1, B: b1, Brightness: 50}, targets[1])
}

func TestPatternPartyAlternates(t *testing.T) {
	first := patternTargets(ModeParty, &showState{}, 0.1, 5, 2) // floor(0.4) = 0
	assert.Equal(t, 100, first[0].Brightness)
	assert.Equal(t, 10, first[1].Brightness)

	second := patternTargets(ModeParty, &showState{}, 0.3, 5, 2) // floor(1.2) = 1
	assert.Equal(t, 10, second[0].Brightness)
	assert.Equal(t, 100, second[1].Brightness)
}

func TestModeTargetsDispatch(t *testing.T) {
	frame := dsp.Frame{RMS: 0.1}

	assert.Len(t, modeTargets(ModePulse, &showState{}, frame, 5, 2), 2)
	assert.Len(t, modeTargets(ModeAmbient, &showState{}, frame, 5, 2), 2)
	assert.Len(t, modeTargets(ModeParty, &showState{}, frame, 5, 2), 2)
	assert.Nil(t, modeTargets(ModeOff, &showState{}, frame, 5, 2))
}
