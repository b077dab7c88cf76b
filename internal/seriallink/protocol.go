package seriallink

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedFrame is returned for line-sensor records that are not exactly
// three comma separated 0/1 values.
var ErrMalformedFrame = errors.New("malformed sensor frame")

// Direction is the obstacle sensor's verdict for the current cycle.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionClear
	DirectionLeft
	DirectionRight
	DirectionBack
	DirectionObstructed
)

var directionTokens = map[string]Direction{
	"Clear":      DirectionClear,
	"L":          DirectionLeft,
	"R":          DirectionRight,
	"B":          DirectionBack,
	"Obstructed": DirectionObstructed,
}

// ParseDirection decodes one obstacle-avoidance token. Anything outside the
// protocol, including an empty line, is DirectionUnknown.
func ParseDirection(token string) Direction {
	if d, ok := directionTokens[strings.TrimSpace(token)]; ok {
		return d
	}
	return DirectionUnknown
}

func (d Direction) String() string {
	switch d {
	case DirectionClear:
		return "Clear"
	case DirectionLeft:
		return "L"
	case DirectionRight:
		return "R"
	case DirectionBack:
		return "B"
	case DirectionObstructed:
		return "Obstructed"
	default:
		return "Unknown"
	}
}

// LineFrame is one reading of the three infrared line sensors. A true field
// means that sensor sees the line.
type LineFrame struct {
	Left   bool
	Center bool
	Right  bool
}

func (f LineFrame) String() string {
	b := func(v bool) int {
		if v {
			return 1
		}
		return 0
	}
	return fmt.Sprintf("%d,%d,%d", b(f.Left), b(f.Center), b(f.Right))
}

// ParseLineFrame decodes a "left,center,right" record such as "1,0,0".
func ParseLineFrame(line string) (LineFrame, error) {
	segments := strings.Split(strings.TrimSpace(line), ",")
	if len(segments) != 3 {
		return LineFrame{}, fmt.Errorf("%w: %q, expected 3 segments", ErrMalformedFrame, line)
	}

	var values [3]bool
	for i, s := range segments {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return LineFrame{}, fmt.Errorf("%w: %q: %v", ErrMalformedFrame, line, err)
		}
		switch v {
		case 0:
		case 1:
			values[i] = true
		default:
			return LineFrame{}, fmt.Errorf("%w: %q: sensor value %d is not 0 or 1", ErrMalformedFrame, line, v)
		}
	}
	return LineFrame{Left: values[0], Center: values[1], Right: values[2]}, nil
}
