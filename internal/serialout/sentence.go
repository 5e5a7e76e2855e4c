package serialout

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"pinger-sim/internal/pinger"
)

// Talker is the proprietary sentence type emitted for each measurement.
const Talker = "PPNGR"

// Sentence formats m as
//
//	$PPNGR,<stamp_sec>,<frame_id>,<range_m>,<bearing_deg>,<elevation_deg>*CS\r\n
//
// Reserved NMEA characters in the frame id are replaced with '_'.
func Sentence(m pinger.Measurement) string {
	payload := strings.Join([]string{
		Talker,
		strconv.FormatFloat(m.Stamp.Seconds(), 'f', 3, 64),
		sanitize(m.FrameID),
		strconv.FormatFloat(m.Range, 'f', 2, 64),
		strconv.FormatFloat(m.Bearing*180/math.Pi, 'f', 2, 64),
		strconv.FormatFloat(m.Elevation*180/math.Pi, 'f', 2, 64),
	}, ",")
	return fmt.Sprintf("$%s*%02X\r\n", payload, checksum(payload))
}

func checksum(payload string) byte {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return ck
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ',', '*', '$', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// ParseSentence validates the checksum of line and returns its comma-split
// payload (excluding '$' and checksum).
func ParseSentence(line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nil, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nil, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nil, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nil, fmt.Errorf("nmea: bad checksum")
	}
	if checksum(payload) != want[0] {
		return nil, fmt.Errorf("nmea: checksum mismatch")
	}
	return strings.Split(payload, ","), nil
}
