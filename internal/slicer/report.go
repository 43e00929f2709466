package slicer

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// UnknownPrintTime is reported when the slicer output carries no time estimate.
const UnknownPrintTime = "Unknown"

var (
	volumePattern = regexp.MustCompile(`filament used \[cm3\]\s*=\s*([0-9]+(?:\.[0-9]+)?)`)
	timePattern   = regexp.MustCompile(`estimated printing time \(normal mode\)\s*=\s*(.+)`)
)

// Stats are the values read from slicer output. Missing values stay zero/unknown.
type Stats struct {
	VolumeCM3 float64
	PrintTime string
}

// ParseStats scans slicer output line by line. The first match of each field wins.
func ParseStats(r io.Reader) Stats {
	s := Stats{PrintTime: UnknownPrintTime}
	var haveVolume, haveTime bool

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() && !(haveVolume && haveTime) {
		line := sc.Text()
		if !haveVolume {
			if m := volumePattern.FindStringSubmatch(line); m != nil {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					s.VolumeCM3 = v
					haveVolume = true
				}
			}
		}
		if !haveTime {
			if m := timePattern.FindStringSubmatch(line); m != nil {
				if t := strings.TrimSpace(m[1]); t != "" {
					s.PrintTime = t
					haveTime = true
				}
			}
		}
	}
	return s
}

// merge fills missing fields of s from other.
func (s Stats) merge(other Stats) Stats {
	if s.VolumeCM3 == 0 {
		s.VolumeCM3 = other.VolumeCM3
	}
	if s.PrintTime == UnknownPrintTime {
		s.PrintTime = other.PrintTime
	}
	return s
}
