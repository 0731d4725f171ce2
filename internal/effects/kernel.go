package effects

// KernelSizes returns the two gaussian kernel sizes for a w x h region.
// Both are odd, at least 3 and, for regions of 3px and more, never larger
// than either side.
func KernelSizes(w, h int) (int, int) {
	k := makeOdd(max(35, min(w, h)/3))
	k = max(3, fit(k, w, h))

	k2 := makeOdd(max(15, k/2))
	k2 = max(3, fit(k2, w, h))
	return k, k2
}

// PixelSize is the side of the square the region is downsampled to.
func PixelSize(w, h int) int {
	return max(8, min(w, h)/10)
}

// Sigma converts a kernel size to the gaussian sigma OpenCV derives when
// sigma is left at zero.
func Sigma(k int) float64 {
	return 0.3*((float64(k)-1)*0.5-1) + 0.8
}

func makeOdd(k int) int {
	if k%2 == 0 {
		return k + 1
	}
	return k
}

func oddFloor(n int) int {
	if n%2 == 1 {
		return n
	}
	return n - 1
}

func fit(k, w, h int) int {
	return min(k, oddFloor(h), oddFloor(w))
}
