package detector

import "image"

// diffMask builds the binary change mask between two equally-sized grays.
// A pixel is set when its absolute difference meets the threshold.
func diffMask(prev, current *image.Gray, threshold uint8) []bool {
	w := current.Rect.Dx()
	h := current.Rect.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		prevRow := prev.Pix[y*prev.Stride : y*prev.Stride+w]
		curRow := current.Pix[y*current.Stride : y*current.Stride+w]
		for x := 0; x < w; x++ {
			diff := int(prevRow[x]) - int(curRow[x])
			if diff < 0 {
				diff = -diff
			}
			if diff >= int(threshold) {
				mask[y*w+x] = true
			}
		}
	}
	return mask
}

// dilate grows the mask by one 3x3 iteration in place.
func dilate(mask []bool, w, h int) {
	src := make([]bool, len(mask))
	copy(src, mask)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if src[y*w+x] {
				continue
			}
			for dy := -1; dy <= 1 && !mask[y*w+x]; dy++ {
				for dx := -1; dx <= 1; dx++ {
					ny := y + dy
					nx := x + dx
					if ny < 0 || ny >= h || nx < 0 || nx >= w {
						continue
					}
					if src[ny*w+nx] {
						mask[y*w+x] = true
						break
					}
				}
			}
		}
	}
}

// hasRegionOfArea reports whether any 8-connected region of set pixels has
// at least minArea pixels. Visits each pixel once and exits early as soon
// as a region qualifies.
func hasRegionOfArea(mask []bool, w, h, minArea int) bool {
	visited := make([]bool, len(mask))
	stack := make([]int, 0, 256)

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}

		area := 0
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++
			if area >= minArea {
				return true
			}

			y := idx / w
			x := idx % w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dy == 0 && dx == 0 {
						continue
					}
					ny := y + dy
					nx := x + dx
					if ny < 0 || ny >= h || nx < 0 || nx >= w {
						continue
					}
					n := ny*w + nx
					if mask[n] && !visited[n] {
						visited[n] = true
						stack = append(stack, n)
					}
				}
			}
		}
	}
	return false
}
