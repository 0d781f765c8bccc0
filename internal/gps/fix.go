package gps

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	nmea "github.com/adrianmo/go-nmea"
)

// ErrNoFix is returned until a valid GGA fix has been seen.
var ErrNoFix = errors.New("gps: no fix")

// Fix represents a single combined GPS fix suitable for JSON and MQTT.
type Fix struct {
	Time       string  `json:"time"`        // e.g. "12:34:56"
	Date       string  `json:"date"`        // e.g. "2025-12-06"
	Latitude   float64 `json:"lat"`         // decimal degrees
	Longitude  float64 `json:"lon"`         // decimal degrees
	SpeedKnots float64 `json:"speed_knots"` // speed over ground
	CourseDeg  float64 `json:"course_deg"`  // course over ground
	Validity   string  `json:"validity"`    // "A" (valid) / "V" (void)

	AltitudeM  float64 `json:"altitude_m"`  // above mean sea level
	FixQuality string  `json:"fix_quality"` // GGA quality, "0" = invalid
	Satellites int64   `json:"satellites"`
	HDOP       float64 `json:"hdop"`
}

// HasAltitude reports whether the last GGA carried a usable fix.
func (f Fix) HasAltitude() bool {
	return f.FixQuality != "" && f.FixQuality != nmea.Invalid
}

// Tracker folds RMC and GGA sentences into one Fix. Safe for one writer and
// many readers.
type Tracker struct {
	mu  sync.RWMutex
	fix Fix
}

// Apply parses one NMEA line. It returns the sentence type it consumed, or
// "" for lines that are not RMC or GGA.
func (t *Tracker) Apply(line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return "", nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return "", fmt.Errorf("nmea: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch m := sentence.(type) {
	case nmea.RMC:
		t.fix.Time = m.Time.String()
		t.fix.Date = m.Date.String()
		t.fix.Latitude = m.Latitude
		t.fix.Longitude = m.Longitude
		t.fix.SpeedKnots = m.Speed
		t.fix.CourseDeg = m.Course
		t.fix.Validity = m.Validity
		return nmea.TypeRMC, nil
	case nmea.GGA:
		t.fix.Time = m.Time.String()
		t.fix.FixQuality = m.FixQuality
		t.fix.Satellites = m.NumSatellites
		t.fix.HDOP = m.HDOP
		if m.FixQuality != nmea.Invalid {
			t.fix.Latitude = m.Latitude
			t.fix.Longitude = m.Longitude
			t.fix.AltitudeM = m.Altitude
		}
		return nmea.TypeGGA, nil
	default:
		return "", nil
	}
}

// Fix returns the current combined fix.
func (t *Tracker) Fix() Fix {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fix
}

// MinCourseKnots is the speed below which the RMC course is noise.
const MinCourseKnots = 1.0

// Course returns the course over ground in degrees when the receiver
// reports a valid fix and enough speed to trust it.
func (t *Tracker) Course() (float64, bool) {
	f := t.Fix()
	if f.Validity != nmea.ValidRMC || f.SpeedKnots < MinCourseKnots {
		return 0, false
	}
	return f.CourseDeg, true
}

// Altitude returns the GGA altitude in meters above sea level.
func (t *Tracker) Altitude() (float64, error) {
	f := t.Fix()
	if !f.HasAltitude() {
		return 0, ErrNoFix
	}
	return f.AltitudeM, nil
}
