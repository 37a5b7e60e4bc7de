package convert

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/kstaniek/go-fp-driver/internal/frame"
)

// FP_A sentence shapes: total token count including tag, type and version.
const (
	odometryTokens = 45
	llhTokens      = 14
	imuTokens      = 11
	tfTokens       = 14
	textMinTokens  = 5
)

// odometryConverter keeps the last epoch so it can report the interval and
// drop repeated or out-of-order epochs.
type odometryConverter struct {
	last GpsTime
	seen bool
}

func (*odometryConverter) Category() Category { return CategoryOdometry }

func (c *odometryConverter) Convert(f frame.Frame, emit Emit) error {
	r, err := newTokenReader(f.Tokens(), odometryTokens, "2")
	if err != nil {
		return err
	}
	o := Odometry{
		Stamp:            r.stamp(),
		Position:         r.vec3(),
		Orientation:      r.vec4(),
		Velocity:         r.vec3(),
		AngularRate:      r.vec3(),
		Acceleration:     r.vec3(),
		FusionStatus:     r.int(),
		ImuBiasStatus:    r.int(),
		Gnss1Status:      r.int(),
		Gnss2Status:      r.int(),
		WheelspeedStatus: r.int(),
		PositionCov:      r.vec6(),
		OrientationCov:   r.vec6(),
		VelocityCov:      r.vec6(),
		Version:          r.str(),
	}
	if r.err != nil {
		return r.err
	}
	if c.seen {
		dt := o.Stamp.Sub(c.last)
		if dt <= 0 {
			return nil
		}
		o.Dt = dt
	}
	c.last, c.seen = o.Stamp, true
	emit(Record{Category: CategoryOdometry, Data: o})
	return nil
}

type llhConverter struct{}

func (llhConverter) Category() Category { return CategoryLLH }

func (llhConverter) Convert(f frame.Frame, emit Emit) error {
	r, err := newTokenReader(f.Tokens(), llhTokens, "1")
	if err != nil {
		return err
	}
	p := Position{Stamp: r.stamp(), Lat: r.float(), Lon: r.float(), Height: r.float(), Cov: r.vec6()}
	if r.err != nil {
		return r.err
	}
	emit(Record{Category: CategoryLLH, Data: p})
	return nil
}

// imuConverter serves both RAWIMU and CORRIMU; the sentences share a shape.
type imuConverter struct {
	cat       Category
	corrected bool
}

func (c imuConverter) Category() Category { return c.cat }

func (c imuConverter) Convert(f frame.Frame, emit Emit) error {
	r, err := newTokenReader(f.Tokens(), imuTokens, "1")
	if err != nil {
		return err
	}
	m := IMU{Stamp: r.stamp(), Corrected: c.corrected, Acceleration: r.vec3(), AngularRate: r.vec3()}
	if r.err != nil {
		return r.err
	}
	emit(Record{Category: c.cat, Data: m})
	return nil
}

type tfConverter struct{}

func (tfConverter) Category() Category { return CategoryTF }

func (tfConverter) Convert(f frame.Frame, emit Emit) error {
	r, err := newTokenReader(f.Tokens(), tfTokens, "2")
	if err != nil {
		return err
	}
	t := Transform{Stamp: r.stamp(), Parent: r.str(), Child: r.str(), Translation: r.vec3(), Rotation: r.vec4()}
	if r.err != nil {
		return r.err
	}
	if t.Parent == "" || t.Child == "" {
		return fmt.Errorf("%w: empty frame name", ErrField)
	}
	emit(Record{Category: CategoryTF, Data: t})
	return nil
}

type textConverter struct{}

func (textConverter) Category() Category { return CategoryText }

func (textConverter) Convert(f frame.Frame, emit Emit) error {
	toks := f.Tokens()
	if len(toks) < textMinTokens {
		return fmt.Errorf("%w: got %d want >= %d", ErrTokenCount, len(toks), textMinTokens)
	}
	if toks[2] != "1" {
		return fmt.Errorf("%w: %q", ErrVersion, toks[2])
	}
	// The message itself may contain commas.
	emit(Record{Category: CategoryText, Data: Text{Level: toks[3], Text: strings.Join(toks[4:], ",")}})
	return nil
}

const bestGNSSPosLen = 72

type bestGNSSPosConverter struct{}

func (bestGNSSPosConverter) Category() Category { return CategoryBestGNSSPos }

func (bestGNSSPosConverter) Convert(f frame.Frame, emit Emit) error {
	p := f.Payload
	if len(p) < bestGNSSPosLen {
		return fmt.Errorf("%w: %d bytes", ErrPayload, len(p))
	}
	le := binary.LittleEndian
	f32 := func(off int) float32 { return math.Float32frombits(le.Uint32(p[off:])) }
	f64 := func(off int) float64 { return math.Float64frombits(le.Uint64(p[off:])) }
	g := GnssPosition{
		Stamp:      GpsTime{Week: int(f.Week), Tow: float64(f.TowMs) / 1000},
		SolStatus:  le.Uint32(p[0:]),
		PosType:    le.Uint32(p[4:]),
		Lat:        f64(8),
		Lon:        f64(16),
		Height:     f64(24),
		Undulation: f32(32),
		Datum:      le.Uint32(p[36:]),
		LatStd:     f32(40),
		LonStd:     f32(44),
		HeightStd:  f32(48),
		StationID:  string(bytes.TrimRight(p[52:56], "\x00")),
		DiffAge:    f32(56),
		SolAge:     f32(60),
		NumSV:      p[64],
		NumSolSV:   p[65],
	}
	emit(Record{Category: CategoryBestGNSSPos, Data: g})
	return nil
}
