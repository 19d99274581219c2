package domain

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// UnknownLocation is used when a row carries no region text.
const UnknownLocation = "Bilinmeyen Konum"

const (
	bulletinTimeLayout = "2006.01.02 15:04:05"
	idTimeLayout       = "20060102_150405"

	// BulletinHeaderLines is the number of leading lines of the data block
	// that are never earthquake rows.
	BulletinHeaderLines = 7

	minRowFields        = 8
	firstMagnitudeField = 5
	minMagnitude        = 0.1
	maxMagnitude        = 10.0

	// The column right after the chosen magnitude is another magnitude scale.
	locationOffset = 2
)

var (
	// parentheticalRe matches sub-region annotations such as "(AEGEAN SEA)".
	parentheticalRe = regexp.MustCompile(`\([^)]*\)`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// ParseLine parses a single bulletin row. It reports false for blank lines,
// headers and any row whose fixed columns or magnitude cannot be recovered.
// It never panics, whatever the input.
func ParseLine(line string) (Earthquake, bool) {
	fields := strings.Fields(line)
	if len(fields) < minRowFields {
		return Earthquake{}, false
	}

	at, err := time.ParseInLocation(bulletinTimeLayout, fields[0]+" "+fields[1], time.UTC)
	if err != nil {
		return Earthquake{}, false
	}

	lat, ok := parseDecimal(fields[2])
	if !ok {
		return Earthquake{}, false
	}
	lon, ok := parseDecimal(fields[3])
	if !ok {
		return Earthquake{}, false
	}
	depth, ok := parseDecimal(fields[4])
	if !ok {
		return Earthquake{}, false
	}

	magIdx, magnitude := findMagnitude(fields)
	if magIdx < 0 {
		return Earthquake{}, false
	}

	// The sentinel applies only when no tokens follow the magnitude; a region
	// made only of annotations cleans down to an empty string.
	location := UnknownLocation
	if start := magIdx + locationOffset; start < len(fields) {
		location = cleanLocation(strings.Join(fields[start:], " "))
	}

	return Earthquake{
		ID:        generateID(at, lat, lon, magnitude),
		Time:      at,
		Latitude:  lat,
		Longitude: lon,
		Depth:     depth,
		Magnitude: magnitude,
		Location:  location,
	}, true
}

// findMagnitude returns the index and value of the first field, from the
// magnitude columns onward, that holds a plausible magnitude. Placeholder
// columns ("-.-") do not parse and are skipped. Returns -1 if none qualifies.
func findMagnitude(fields []string) (int, float64) {
	for i := firstMagnitudeField; i < len(fields); i++ {
		v, ok := parseDecimal(fields[i])
		if !ok {
			continue
		}
		if v >= minMagnitude && v <= maxMagnitude {
			return i, v
		}
	}
	return -1, 0
}

// parseDecimal parses a finite decimal number. NaN, infinities, hex floats
// and underscore digit separators are rejected even though strconv accepts
// their spellings.
func parseDecimal(s string) (float64, bool) {
	if strings.ContainsAny(s, "xX_") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// cleanLocation strips parenthesized sub-regions and collapses whitespace,
// e.g. "IZMIR-SEFERIHISAR (AEGEAN SEA)" -> "IZMIR-SEFERIHISAR".
func cleanLocation(s string) string {
	s = parentheticalRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// generateID derives the deterministic earthquake ID from second-resolution
// time, coordinates and magnitude.
func generateID(at time.Time, lat, lon, magnitude float64) string {
	return fmt.Sprintf("%s_%.3f_%.3f_%s", at.Format(idTimeLayout), lat, lon, FormatMagnitude(magnitude))
}

// FormatMagnitude prints a magnitude the way the bulletin does.
func FormatMagnitude(m float64) string {
	return FormatDecimal(m)
}

// FormatDecimal prints the shortest decimal form, with whole values keeping
// one decimal (4 -> "4.0", 7 -> "7.0").
func FormatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParseReport is the outcome of parsing a whole bulletin block.
type ParseReport struct {
	Quakes   []Earthquake
	Rejected []string // non-blank rows that did not parse
}

// ParseBulletin splits the data block into lines, skips the fixed header and
// parses every remaining row. Quakes keep bulletin order (newest first).
func ParseBulletin(text string) ParseReport {
	var report ParseReport

	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) <= BulletinHeaderLines {
		return report
	}

	for _, line := range lines[BulletinHeaderLines:] {
		q, ok := ParseLine(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				report.Rejected = append(report.Rejected, line)
			}
			continue
		}
		report.Quakes = append(report.Quakes, q)
	}
	return report
}

// FilterSignificant keeps earthquakes at or above minMagnitude, preserving order.
func FilterSignificant(quakes []Earthquake, minMagnitude float64) []Earthquake {
	out := make([]Earthquake, 0, len(quakes))
	for _, q := range quakes {
		if q.Magnitude >= minMagnitude {
			out = append(out, q)
		}
	}
	return out
}
