// Package convert turns decoded frames into domain records. A Registry is
// built once from the requested output categories and routes each frame to
// the converter registered for it.
package convert

import (
	"errors"
	"strings"

	"github.com/kstaniek/go-fp-driver/internal/frame"
)

// Category names an output record stream.
type Category string

const (
	CategoryOdometry    Category = "ODOMETRY"
	CategoryLLH         Category = "LLH"
	CategoryRawIMU      Category = "RAWIMU"
	CategoryCorrIMU     Category = "CORRIMU"
	CategoryTF          Category = "TF"
	CategoryText        Category = "TEXT"
	CategoryBestGNSSPos Category = "BESTGNSSPOS"
)

// ParseCategory accepts the built-in category names, case-insensitively.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToUpper(strings.TrimSpace(s))); c {
	case CategoryOdometry, CategoryLLH, CategoryRawIMU, CategoryCorrIMU,
		CategoryTF, CategoryText, CategoryBestGNSSPos:
		return c, true
	}
	return "", false
}

// Record is one (category, domain record) pair handed to the sink.
type Record struct {
	Category Category
	Data     any
}

// Emit receives records as converters produce them.
type Emit func(Record)

// Converter turns one frame into zero or more records. Implementations may
// keep state between frames; a Registry never calls one concurrently.
type Converter interface {
	Category() Category
	Convert(f frame.Frame, emit Emit) error
}

var (
	ErrTokenCount = errors.New("unexpected token count")
	ErrVersion    = errors.New("unsupported message version")
	ErrField      = errors.New("malformed field")
	ErrPayload    = errors.New("short payload")
)

// GpsTime is GPS week number plus seconds of week.
type GpsTime struct {
	Week int     `cbor:"week" json:"week"`
	Tow  float64 `cbor:"tow" json:"tow"`
}

const secondsPerWeek = 604800

// Sub returns t-u in seconds.
func (t GpsTime) Sub(u GpsTime) float64 {
	return float64(t.Week-u.Week)*secondsPerWeek + (t.Tow - u.Tow)
}

// IsZero reports an unset stamp (the receiver sends 0/0 before time fix).
func (t GpsTime) IsZero() bool { return t.Week == 0 && t.Tow == 0 }

type Odometry struct {
	Stamp            GpsTime    `cbor:"stamp"`
	Position         [3]float64 `cbor:"pos_ecef"`
	Orientation      [4]float64 `cbor:"orientation"` // w, x, y, z
	Velocity         [3]float64 `cbor:"vel"`
	AngularRate      [3]float64 `cbor:"rot"`
	Acceleration     [3]float64 `cbor:"acc"`
	FusionStatus     int        `cbor:"fusion_status"`
	ImuBiasStatus    int        `cbor:"imu_bias_status"`
	Gnss1Status      int        `cbor:"gnss1_status"`
	Gnss2Status      int        `cbor:"gnss2_status"`
	WheelspeedStatus int        `cbor:"wheelspeed_status"`
	PositionCov      [6]float64 `cbor:"pos_cov"` // xx yy zz xy yz xz
	OrientationCov   [6]float64 `cbor:"orientation_cov"`
	VelocityCov      [6]float64 `cbor:"vel_cov"`
	Version          string     `cbor:"version"`
	// Dt is the time since the previous epoch in seconds, 0 for the first.
	Dt float64 `cbor:"dt"`
}

type Position struct {
	Stamp  GpsTime    `cbor:"stamp"`
	Lat    float64    `cbor:"lat"`
	Lon    float64    `cbor:"lon"`
	Height float64    `cbor:"height"`
	Cov    [6]float64 `cbor:"cov"` // ee nn uu en nu ue
}

type IMU struct {
	Stamp        GpsTime    `cbor:"stamp"`
	Corrected    bool       `cbor:"corrected"`
	Acceleration [3]float64 `cbor:"acc"`
	AngularRate  [3]float64 `cbor:"rot"`
}

type Transform struct {
	Stamp       GpsTime    `cbor:"stamp"`
	Parent      string     `cbor:"frame_a"`
	Child       string     `cbor:"frame_b"`
	Translation [3]float64 `cbor:"translation"`
	Rotation    [4]float64 `cbor:"rotation"` // w, x, y, z
}

type Text struct {
	Level string `cbor:"level"`
	Text  string `cbor:"text"`
}

type GnssPosition struct {
	Stamp      GpsTime `cbor:"stamp"`
	SolStatus  uint32  `cbor:"sol_status"`
	PosType    uint32  `cbor:"pos_type"`
	Lat        float64 `cbor:"lat"`
	Lon        float64 `cbor:"lon"`
	Height     float64 `cbor:"height"`
	Undulation float32 `cbor:"undulation"`
	Datum      uint32  `cbor:"datum"`
	LatStd     float32 `cbor:"lat_std"`
	LonStd     float32 `cbor:"lon_std"`
	HeightStd  float32 `cbor:"height_std"`
	StationID  string  `cbor:"station_id"`
	DiffAge    float32 `cbor:"diff_age"`
	SolAge     float32 `cbor:"sol_age"`
	NumSV      uint8   `cbor:"num_sv"`
	NumSolSV   uint8   `cbor:"num_sol_sv"`
}
