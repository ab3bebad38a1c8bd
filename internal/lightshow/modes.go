package lightshow

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/Drewsername/localweb/internal/dsp"
	"github.com/Drewsername/localweb/internal/utils"
)

// Mode names a visual strategy for the show.
type Mode string

const (
	ModeOff     Mode = "off"
	ModePulse   Mode = "pulse"
	ModeAmbient Mode = "ambient"
	ModeParty   Mode = "party"
)

// ErrBadMode rejects mode strings outside the known set.
var ErrBadMode = eris.New("unknown light show mode")

// ParseMode validates a mode string, including "off".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOff, ModePulse, ModeAmbient, ModeParty:
		return Mode(s), nil
	default:
		return "", eris.Wrapf(ErrBadMode, "%q", s)
	}
}

// LampCommand is one intended color/brightness pair for a lamp index.
type LampCommand struct {
	R, G, B    uint8
	Brightness int
}

// showState is the worker-owned mutable state the mode policies advance.
type showState struct {
	huePhase  float64
	beatCount uint64
}

// modeTargets dispatches an analysis frame to the active mode policy and
// returns one command per lamp.
func modeTargets(mode Mode, st *showState, f dsp.Frame, intensity, lamps int) []LampCommand {
	switch mode {
	case ModePulse:
		return pulseTargets(st, f, intensity, lamps)
	case ModeAmbient:
		return ambientTargets(st, f, intensity, lamps)
	case ModeParty:
		return partyTargets(st, f, intensity, lamps)
	default:
		return nil
	}
}

// pulseTargets: beat-synced brightness flashes, energy-driven color warmth.
// Every lamp receives the same color and brightness.
func pulseTargets(st *showState, f dsp.Frame, intensity, lamps int) []LampCommand {
	s := intensityScale(intensity)
	e := energy(f.RMS)

	var brightness int
	if f.Beat {
		st.huePhase = utils.WrapUnit(st.huePhase + 0.08)
		brightness = int(math.Round(100 * s))
	} else {
		st.huePhase = utils.WrapUnit(st.huePhase + 0.002)
		brightness = int(math.Round(utils.Clamp(f.RMS*500, 20, 70) * s))
	}

	// High energy pulls toward reds/oranges, low energy toward
	// blues/purples; the drifting phase adds movement on top.
	var base float64
	if e > 0.5 {
		base = e * 0.1
	} else {
		base = 0.6 + (1-e)*0.15
	}
	hue := utils.WrapUnit(base + st.huePhase*0.3)
	saturation := 0.7 + 0.3*s

	r, g, b := HSVToRGB(hue, saturation, 1.0)

	targets := make([]LampCommand, lamps)
	for i := range targets {
		targets[i] = LampCommand{R: r, G: g, B: b, Brightness: brightness}
	}
	return targets
}

// ambientTargets: slow energy-paced rotation, complementary hues across
// lamp positions.
func ambientTargets(st *showState, f dsp.Frame, intensity, lamps int) []LampCommand {
	s := intensityScale(intensity)
	e := energy(f.RMS)

	speed := 0.001 + e*0.005
	st.huePhase = utils.WrapUnit(st.huePhase + speed)

	saturation := 0.4 + 0.3*e
	brightness := int(math.Round((30 + 50*e) * s))

	targets := make([]LampCommand, lamps)
	for i := range targets {
		hue := utils.WrapUnit(st.huePhase + 0.5*float64(i%2))
		r, g, b := HSVToRGB(hue, saturation, 1.0)
		targets[i] = LampCommand{R: r, G: g, B: b, Brightness: brightness}
	}
	return targets
}

// partyTargets: alternating beat flashes with complementary colors; a white
// strobe on energy spikes between beats. The beat branch wins on iterations
// that are both.
func partyTargets(st *showState, f dsp.Frame, intensity, lamps int) []LampCommand {
	s := intensityScale(intensity)
	e := energy(f.RMS)

	targets := make([]LampCommand, lamps)

	switch {
	case f.Beat:
		st.huePhase = utils.WrapUnit(st.huePhase + 0.15)
		flash := int(st.beatCount % 2)

		r, g, b := HSVToRGB(st.huePhase, 1.0, 1.0)
		cr, cg, cb := HSVToRGB(utils.WrapUnit(st.huePhase+0.5), 1.0, 1.0)
		for i := range targets {
			if i%2 == flash {
				targets[i] = LampCommand{R: r, G: g, B: b, Brightness: int(math.Round(100 * s))}
			} else {
				targets[i] = LampCommand{R: cr, G: cg, B: cb, Brightness: int(math.Round(40 * s))}
			}
		}
	case e > 0.8:
		for i := range targets {
			targets[i] = LampCommand{R: 255, G: 255, B: 255, Brightness: int(math.Round(100 * s))}
		}
	default:
		r, g, b := HSVToRGB(st.huePhase, 0.8, 1.0)
		brightness := int(math.Round(math.Max(10, 40*e) * s))
		for i := range targets {
			targets[i] = LampCommand{R: r, G: g, B: b, Brightness: brightness}
		}
	}
	return targets
}

// patternTargets drives lamps from wall-clock time when no audio window is
// available. t is seconds since the worker started.
func patternTargets(mode Mode, st *showState, t float64, intensity, lamps int) []LampCommand {
	targets := make([]LampCommand, lamps)

	switch mode {
	case ModePulse:
		brightness := int(math.Round(40 + 30*math.Sin(2*t)))
		st.huePhase = utils.WrapUnit(st.huePhase + 0.003)
		r, g, b := HSVToRGB(st.huePhase, 0.8, 1.0)
		for i := range targets {
			targets[i] = LampCommand{R: r, G: g, B: b, Brightness: brightness}
		}
	case ModeAmbient:
		st.huePhase = utils.WrapUnit(st.huePhase + 0.001)
		for i := range targets {
			hue := utils.WrapUnit(st.huePhase + 0.5*float64(i%2))
			r, g, b := HSVToRGB(hue, 0.6, 1.0)
			targets[i] = LampCommand{R: r, G: g, B: b, Brightness: 50}
		}
	case ModeParty:
		st.huePhase = utils.WrapUnit(st.huePhase + 0.01)
		active := int(math.Floor(4*t)) % 2
		r, g, b := HSVToRGB(st.huePhase, 1.0, 1.0)
		for i := range targets {
			if i%2 == active {
				targets[i] = LampCommand{R: r, G: g, B: b, Brightness: 100}
			} else {
				targets[i] = LampCommand{Brightness: 10}
			}
		}
	}
	return targets
}

func intensityScale(intensity int) float64 {
	return float64(utils.Clamp(intensity, 1, 10)) / 10
}

// energy normalizes frame RMS to a rough [0,1] scale.
func energy(rms float64) float64 {
	return math.Min(1, rms*5)
}
