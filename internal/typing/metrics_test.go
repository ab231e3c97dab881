package typing

import (
	"testing"
	"time"
)

func TestWPM(t *testing.T) {
	tests := []struct {
		name    string
		typed   int
		elapsed time.Duration
		want    float64
	}{
		{"one minute", 50, time.Minute, 10},
		{"half minute", 50, 30 * time.Second, 20},
		{"not started", 50, 0, 0},
		{"negative elapsed", 10, -time.Second, 0},
		{"nothing typed", 0, time.Minute, 0},
		{"rounds", 52, time.Minute, 10},
	}
	for _, tt := range tests {
		if got := WPM(tt.typed, tt.elapsed); got != tt.want {
			t.Errorf("%s: WPM = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAccuracy(t *testing.T) {
	slots := []Slot{
		{Char: 'c', Status: StatusCorrect},
		{Char: 'a', Status: StatusCorrect},
		{Char: 't', Status: StatusIncorrect},
	}
	if got := Accuracy(slots, 3, 3); got != 67 {
		t.Fatalf("accuracy = %v", got)
	}
	if got := Accuracy(slots, 0, 0); got != 100 {
		t.Fatalf("empty accuracy = %v", got)
	}
}

func TestConsistency(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    float64
	}{
		{"no samples", nil, 100},
		{"one sample", []float64{40}, 100},
		{"steady", []float64{50, 50, 50}, 100},
		{"all zero", []float64{0, 0, 0}, 100},
		// mean 50, population stddev 10 -> cv 0.2
		{"spread", []float64{40, 60}, 80},
		{"wild", []float64{0, 0, 0, 100}, 0},
	}
	for _, tt := range tests {
		got := Consistency(tt.samples)
		if got != tt.want {
			t.Errorf("%s: consistency = %v, want %v", tt.name, got, tt.want)
		}
		if got < 0 || got > 100 {
			t.Errorf("%s: consistency out of range: %v", tt.name, got)
		}
	}
}

func TestHintFor(t *testing.T) {
	tests := []struct {
		r    rune
		want Hint
	}{
		{'f', Hint{Hand: HandLeft, Finger: FingerIndex, Row: 2}},
		{'J', Hint{Hand: HandRight, Finger: FingerIndex, Row: 2, Shift: true}},
		{'q', Hint{Hand: HandLeft, Finger: FingerPinky, Row: 1}},
		{'?', Hint{Hand: HandRight, Finger: FingerPinky, Row: 3, Shift: true}},
		{' ', Hint{Hand: HandBoth, Finger: FingerThumb, Row: 4}},
	}
	for _, tt := range tests {
		got, ok := HintFor(tt.r)
		if !ok || got != tt.want {
			t.Errorf("HintFor(%q) = %+v, %v; want %+v", tt.r, got, ok, tt.want)
		}
	}
	if _, ok := HintFor('é'); ok {
		t.Errorf("expected no hint for non-layout rune")
	}
}
