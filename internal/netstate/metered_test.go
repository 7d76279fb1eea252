package netstate

import (
	"context"
	"errors"
	"testing"
)

type failingDetector struct{}

func (failingDetector) Metered(context.Context) (bool, error) {
	return false, errors.New("no bus")
}

func TestUseSymbolResolution(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		supported bool
		preferred bool
		detector  Detector
		want      bool
	}{
		{name: "unsupported", supported: false, preferred: true, detector: Static(false), want: false},
		{name: "not preferred", supported: true, preferred: false, detector: Static(false), want: false},
		{name: "metered", supported: true, preferred: true, detector: Static(true), want: false},
		{name: "unmetered", supported: true, preferred: true, detector: Static(false), want: true},
		{name: "detection fails open", supported: true, preferred: true, detector: failingDetector{}, want: true},
		{name: "no detector", supported: true, preferred: true, detector: nil, want: true},
	}
	for _, tc := range tests {
		if got := UseSymbolResolution(ctx, tc.supported, tc.preferred, tc.detector); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
