package chart

// PixelClass is the category a single pixel is counted under.
type PixelClass uint8

const (
	Unclassified PixelClass = iota
	GreenCandle
	RedCandle
	DarkBackground
	Grid
	Interface
)

var pixelClassNames = [...]string{
	Unclassified:   "unclassified",
	GreenCandle:    "green_candle",
	RedCandle:      "red_candle",
	DarkBackground: "dark_background",
	Grid:           "grid",
	Interface:      "interface",
}

func (c PixelClass) String() string {
	if int(c) < len(pixelClassNames) {
		return pixelClassNames[c]
	}
	return "unknown"
}

// Classify assigns a pixel to the first matching class, in declaration order.
func Classify(r, g, b uint8) PixelClass {
	switch {
	case g > 150 && r < 100 && b < 100:
		return GreenCandle
	case r > 150 && g < 100 && b < 100:
		return RedCandle
	case r < 40 && g < 40 && b < 40:
		return DarkBackground
	}

	neutral := absDiff(r, g) < 10 && absDiff(g, b) < 10
	switch {
	case neutral && r > 30 && r < 70:
		return Grid
	case neutral && r > 150, r > 200 && g > 200 && b > 200:
		return Interface
	}
	return Unclassified
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

// Counts tallies pixels per class for one bitmap.
type Counts struct {
	Green     int
	Red       int
	Dark      int
	Grid      int
	Interface int
	Total     int
}

// Count scans pix once. Callers must pass a buffer whose length is a
// multiple of BytesPerPixel.
func Count(pix []byte) Counts {
	var c Counts
	for i := 0; i+BytesPerPixel <= len(pix); i += BytesPerPixel {
		switch Classify(pix[i], pix[i+1], pix[i+2]) {
		case GreenCandle:
			c.Green++
		case RedCandle:
			c.Red++
		case DarkBackground:
			c.Dark++
		case Grid:
			c.Grid++
		case Interface:
			c.Interface++
		}
		c.Total++
	}
	return c
}
