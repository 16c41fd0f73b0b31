package ingest

import (
	"testing"

	"github.com/match9393/ContextForge/config"
)

func testPolicy() config.ImagePolicy {
	return config.ImagePolicy{
		MinWidth:       64,
		MinHeight:      64,
		MinArea:        10000,
		MinBytes:       4096,
		MaxAspectRatio: 5.0,
		MaxPerPage:     3,
	}
}

func testImage(page, w, h, size int) ExtractedImage {
	return ExtractedImage{PageNumber: page, Width: w, Height: h, Data: make([]byte, size)}
}

func TestEligibleForCaption(t *testing.T) {
	policy := testPolicy()
	cases := []struct {
		name string
		img  ExtractedImage
		want bool
	}{
		{"large square", testImage(1, 1000, 1000, 50000), true},
		{"tiny", testImage(1, 50, 50, 50000), false},
		{"thin banner", testImage(1, 1200, 80, 50000), false},
		{"too few bytes", testImage(1, 500, 500, 100), false},
		{"under area", testImage(1, 70, 70, 50000), false},
		{"at limits", testImage(1, 100, 100, 4096), true},
	}
	for _, tc := range cases {
		if got := eligibleForCaption(policy, tc.img); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestSelectForCaptioningLargestFirstPerPage(t *testing.T) {
	policy := testPolicy()
	policy.MaxPerPage = 2
	images := []ExtractedImage{
		testImage(1, 200, 200, 50000),
		testImage(1, 800, 800, 50000),
		testImage(1, 400, 400, 50000),
		testImage(2, 300, 300, 50000),
	}
	got := selectForCaptioning(policy, images, 0)
	if len(got) != 3 {
		t.Fatalf("selected %v", got)
	}
	// Page 1 keeps its two largest, page 2 its single image.
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("selection order %v", got)
	}
}

func TestSelectForCaptioningGlobalCap(t *testing.T) {
	images := []ExtractedImage{
		testImage(1, 500, 500, 50000),
		testImage(2, 500, 500, 50000),
		testImage(3, 500, 500, 50000),
	}
	got := selectForCaptioning(testPolicy(), images, 2)
	if len(got) != 2 {
		t.Fatalf("selected %v", got)
	}
	if got[0] != 0 || got[1] != 1 {
		t.Fatalf("page order broken: %v", got)
	}
}

func TestSelectForCaptioningSkipsIneligible(t *testing.T) {
	images := []ExtractedImage{
		testImage(1, 1000, 1000, 50000),
		testImage(1, 50, 50, 50000),
	}
	got := selectForCaptioning(testPolicy(), images, 0)
	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("selected %v", got)
	}
}
