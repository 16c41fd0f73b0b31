package ingest

import (
	"sort"

	"github.com/match9393/ContextForge/config"
)

// ExtractedImage is an image lifted out of a source document before any
// captioning decision has been made.
type ExtractedImage struct {
	PageNumber int
	ImageIndex int
	SourceURL  string
	MimeType   string
	Data       []byte
	Width      int
	Height     int
}

// eligibleForCaption applies the deterministic size/shape predicate: the
// image must clear every minimum and its aspect ratio must not exceed
// the policy maximum.
func eligibleForCaption(policy config.ImagePolicy, img ExtractedImage) bool {
	if img.Width < policy.MinWidth || img.Height < policy.MinHeight {
		return false
	}
	if img.Width*img.Height < policy.MinArea {
		return false
	}
	if len(img.Data) < policy.MinBytes {
		return false
	}
	longer, shorter := img.Width, img.Height
	if shorter > longer {
		longer, shorter = shorter, longer
	}
	if shorter < 1 {
		shorter = 1
	}
	if float64(longer)/float64(shorter) > policy.MaxAspectRatio {
		return false
	}
	return true
}

// selectForCaptioning returns the indexes of images chosen for vision
// captioning. Per page, eligible images are taken largest-area first up
// to policy.MaxPerPage; globalMax then bounds the whole ingest in page
// order (0 means unbounded).
func selectForCaptioning(policy config.ImagePolicy, images []ExtractedImage, globalMax int) []int {
	byPage := map[int][]int{}
	var pages []int
	for i, img := range images {
		if !eligibleForCaption(policy, img) {
			continue
		}
		if _, seen := byPage[img.PageNumber]; !seen {
			pages = append(pages, img.PageNumber)
		}
		byPage[img.PageNumber] = append(byPage[img.PageNumber], i)
	}
	sort.Ints(pages)

	var selected []int
	for _, page := range pages {
		candidates := byPage[page]
		sort.SliceStable(candidates, func(a, b int) bool {
			ia, ib := images[candidates[a]], images[candidates[b]]
			return ia.Width*ia.Height > ib.Width*ib.Height
		})
		if policy.MaxPerPage > 0 && len(candidates) > policy.MaxPerPage {
			candidates = candidates[:policy.MaxPerPage]
		}
		for _, idx := range candidates {
			if globalMax > 0 && len(selected) >= globalMax {
				return selected
			}
			selected = append(selected, idx)
		}
	}
	return selected
}
