package slicer

import (
	"strings"
	"testing"
)

func TestParseStats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		wantVolume float64
		wantTime   string
	}{
		{
			name: "gcode footer",
			input: `G1 X10 Y10
; filament used [mm] = 4321.12
; filament used [cm3] = 10.39
; estimated printing time (normal mode) = 1h 2m 3s
; estimated printing time (silent mode) = 1h 5m 0s`,
			wantVolume: 10.39,
			wantTime:   "1h 2m 3s",
		},
		{
			name:       "integer volume",
			input:      "; filament used [cm3] = 7\n",
			wantVolume: 7,
			wantTime:   UnknownPrintTime,
		},
		{
			name:       "time only",
			input:      "; estimated printing time (normal mode) = 42m 10s\n",
			wantVolume: 0,
			wantTime:   "42m 10s",
		},
		{
			name:       "nothing recognised",
			input:      "G28\nG1 Z5\n",
			wantVolume: 0,
			wantTime:   UnknownPrintTime,
		},
		{
			name:       "empty",
			input:      "",
			wantVolume: 0,
			wantTime:   UnknownPrintTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseStats(strings.NewReader(tt.input))
			if got.VolumeCM3 != tt.wantVolume {
				t.Errorf("VolumeCM3 = %v, want %v", got.VolumeCM3, tt.wantVolume)
			}
			if got.PrintTime != tt.wantTime {
				t.Errorf("PrintTime = %q, want %q", got.PrintTime, tt.wantTime)
			}
		})
	}
}

func TestStats_Merge(t *testing.T) {
	t.Parallel()

	gcode := Stats{VolumeCM3: 3.2, PrintTime: UnknownPrintTime}
	log := Stats{VolumeCM3: 9, PrintTime: "12m"}

	got := gcode.merge(log)
	if got.VolumeCM3 != 3.2 || got.PrintTime != "12m" {
		t.Errorf("merge() = %+v", got)
	}
}
