package ffmpeg

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

// Statistics is one parsed ffmpeg status line.
// Example: frame=   42 fps= 21 q=-0.0 size=     512kB time=00:00:01.40 bitrate=2995.9kbits/s speed=0.7x
type Statistics struct {
	Frame     int64
	FPS       float64
	SizeBytes int64
	Time      time.Duration
	Speed     float64
}

var (
	timeRe  = regexp.MustCompile(`time=\s*(-?\d+):(\d+):(\d+(?:\.\d+)?)`)
	frameRe = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe   = regexp.MustCompile(`fps=\s*(\d+(?:\.\d+)?)`)
	sizeRe  = regexp.MustCompile(`size=\s*(\d+)(kB|KiB)`)
	speedRe = regexp.MustCompile(`speed=\s*(\d+(?:\.\d+)?)x`)
)

// ParseStatistics extracts statistics from a status line. It reports false for
// lines without a usable time= field.
func ParseStatistics(line string) (Statistics, bool) {
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return Statistics{}, false
	}

	var s Statistics
	hours, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.ParseFloat(m[3], 64)
	s.Time = time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(math.Round(secs*float64(time.Second)))
	if s.Time < 0 {
		s.Time = 0
	}

	if m := frameRe.FindStringSubmatch(line); m != nil {
		s.Frame, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := fpsRe.FindStringSubmatch(line); m != nil {
		s.FPS, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := sizeRe.FindStringSubmatch(line); m != nil {
		kb, _ := strconv.ParseInt(m[1], 10, 64)
		s.SizeBytes = kb * 1024
	}
	if m := speedRe.FindStringSubmatch(line); m != nil {
		s.Speed, _ = strconv.ParseFloat(m[1], 64)
	}

	return s, true
}

// Ratio converts covered time into a completion ratio in [0, 0.999]. 1.0 is
// reserved for a completed job. An unknown estimate yields 0.
func Ratio(covered time.Duration, estimatedMs int64) float64 {
	if estimatedMs <= 0 {
		return 0
	}
	r := float64(covered.Milliseconds()) / float64(estimatedMs)
	switch {
	case r < 0:
		return 0
	case r > 0.999:
		return 0.999
	}
	return r
}
