package geo

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name             string
		a, b             Point
		wantMeters       float64
		tolerancePercent float64
	}{
		{
			name:             "Stuttgart Schlossplatz to Feuerbach",
			a:                Pt(9.18, 48.77),
			b:                Pt(9.20, 48.80),
			wantMeters:       3_630,
			tolerancePercent: 2,
		},
		{
			name:             "London to Paris",
			a:                Pt(-0.1278, 51.5074),
			b:                Pt(2.3522, 48.8566),
			wantMeters:       343_500,
			tolerancePercent: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			diff := math.Abs(got-tt.wantMeters) / tt.wantMeters * 100
			if diff > tt.tolerancePercent {
				t.Errorf("Distance = %f m, want ~%f m (diff %.1f%%)", got, tt.wantMeters, diff)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Point
		wantErr bool
	}{
		{"valid", Pt(9.18, 48.77), false},
		{"lat out of range", Pt(9.18, 91), true},
		{"lon out of range", Pt(181, 0), true},
		{"nan", Pt(math.NaN(), 0), true},
		{"inf", Pt(0, math.Inf(1)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.p); (err != nil) != tt.wantErr {
				t.Errorf("Validate(%v) error = %v, wantErr %v", tt.p, err, tt.wantErr)
			}
		})
	}
}

func TestValidateBounds(t *testing.T) {
	if err := ValidateBounds(NewBounds(9.1, 48.7, 9.3, 48.9)); err != nil {
		t.Errorf("valid bounds rejected: %v", err)
	}
	if err := ValidateBounds(NewBounds(9.3, 48.7, 9.1, 48.9)); err == nil {
		t.Error("inverted bounds accepted")
	}
}

func TestBoundsOf(t *testing.T) {
	if _, ok := BoundsOf(nil); ok {
		t.Fatal("BoundsOf(nil) ok = true")
	}
	b, ok := BoundsOf([]Point{Pt(9.20, 48.80), Pt(9.18, 48.77), Pt(9.19, 48.90)})
	if !ok {
		t.Fatal("BoundsOf ok = false")
	}
	if !Equal(b.Min, Pt(9.18, 48.77)) || !Equal(b.Max, Pt(9.20, 48.90)) {
		t.Errorf("BoundsOf = %v", b)
	}
}

func TestPathLength(t *testing.T) {
	line := []Point{Pt(9.18, 48.77), Pt(9.19, 48.78), Pt(9.20, 48.80)}
	direct := Distance(line[0], line[2])
	if got := PathLength(line); got < direct {
		t.Errorf("PathLength = %f, shorter than direct distance %f", got, direct)
	}
	if got := PathLength(line[:1]); got != 0 {
		t.Errorf("PathLength(single point) = %f, want 0", got)
	}
}
