package floats_test

import (
	"math"
	"testing"

	"example.com/synchroclock/base/floats"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		name      string
		input     []float64
		want      float64
		wantPanic bool
	}{
		{
			name:      "Empty slice",
			input:     []float64{},
			wantPanic: true,
		},
		{
			name:  "Single element",
			input: []float64{42.0},
			want:  42.0,
		},
		{
			name:  "Odd count",
			input: []float64{3.0, 1.0, 2.0},
			want:  2.0,
		},
		{
			name:  "Even count",
			input: []float64{4.0, 1.0, 3.0, 2.0},
			want:  2.5,
		},
		{
			name:  "Mixed positive and negative values",
			input: []float64{-1.0, 2.0, -3.0, 4.0, -5.0, 6.0},
			want:  0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantPanic {
				defer func() {
					if r := recover(); r == nil {
						t.Errorf("expected panic, got none")
					}
				}()
				_ = floats.Median(tt.input)
			} else {
				got := floats.Median(tt.input)
				if got != tt.want {
					t.Errorf("Median(%v) = %v, want %v", tt.input, got, tt.want)
				}
			}
		})
	}
}

func TestMeanPopStdDev(t *testing.T) {
	tests := []struct {
		name   string
		input  []float64
		mean   float64
		stddev float64
	}{
		{"Single element", []float64{0.02}, 0.02, 0},
		{"Constant", []float64{5, 5, 5, 5}, 5, 0},
		{"Textbook", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 5, 2},
		{"Delays", []float64{0.02, 0.021, 0.019, 0.300}, 0.09, math.Sqrt(0.058802 / 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean := floats.Mean(tt.input)
			if math.Abs(mean-tt.mean) > 1e-12 {
				t.Errorf("Mean(%v) = %v, want %v", tt.input, mean, tt.mean)
			}
			sd := floats.PopStdDev(tt.input, mean)
			if math.Abs(sd-tt.stddev) > 1e-12 {
				t.Errorf("PopStdDev(%v) = %v, want %v", tt.input, sd, tt.stddev)
			}
		})
	}
}

func TestSlope(t *testing.T) {
	tests := []struct {
		name   string
		xs, ys []float64
		want   float64
		ok     bool
	}{
		{
			name: "Exact line",
			xs:   []float64{0, 100, 200, 300},
			ys:   []float64{1, 1.0005, 1.001, 1.0015},
			want: 5e-6,
			ok:   true,
		},
		{
			name: "Too few points",
			xs:   []float64{0, 100, 200},
			ys:   []float64{0, 1, 2},
		},
		{
			name: "Degenerate x",
			xs:   []float64{7, 7, 7, 7},
			ys:   []float64{0, 1, 2, 3},
		},
		{
			name: "Negative slope",
			xs:   []float64{300, 200, 100, 0},
			ys:   []float64{-0.3, -0.2, -0.1, 0},
			want: -1e-3,
			ok:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := floats.Slope(tt.xs, tt.ys, 4)
			if ok != tt.ok {
				t.Fatalf("Slope ok = %v, want %v", ok, tt.ok)
			}
			if ok && math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Slope = %v, want %v", got, tt.want)
			}
		})
	}
}
