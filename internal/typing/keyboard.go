package typing

type Hand string

const (
	HandLeft  Hand = "left"
	HandRight Hand = "right"
	HandBoth  Hand = "both"
)

type Finger string

const (
	FingerPinky  Finger = "pinky"
	FingerRing   Finger = "ring"
	FingerMiddle Finger = "middle"
	FingerIndex  Finger = "index"
	FingerThumb  Finger = "thumb"
)

// Hint says which finger should strike a character on a US QWERTY layout.
type Hint struct {
	Hand   Hand
	Finger Finger
	Row    int
	Shift  bool
}

type keyRow struct {
	plain   string
	shifted string
	fingers []Finger
	hands   []Hand
}

var (
	fp, fr, fm, fi = FingerPinky, FingerRing, FingerMiddle, FingerIndex
	lh, rh         = HandLeft, HandRight
)

var qwertyRows = []keyRow{
	{
		plain:   "`1234567890-=",
		shifted: "~!@#$%^&*()_+",
		fingers: []Finger{fp, fp, fr, fm, fi, fi, fi, fi, fm, fr, fp, fp, fp},
		hands:   []Hand{lh, lh, lh, lh, lh, lh, rh, rh, rh, rh, rh, rh, rh},
	},
	{
		plain:   "qwertyuiop[]\\",
		shifted: "QWERTYUIOP{}|",
		fingers: []Finger{fp, fr, fm, fi, fi, fi, fi, fm, fr, fp, fp, fp, fp},
		hands:   []Hand{lh, lh, lh, lh, lh, rh, rh, rh, rh, rh, rh, rh, rh},
	},
	{
		plain:   "asdfghjkl;'",
		shifted: "ASDFGHJKL:\"",
		fingers: []Finger{fp, fr, fm, fi, fi, fi, fi, fm, fr, fp, fp},
		hands:   []Hand{lh, lh, lh, lh, lh, rh, rh, rh, rh, rh, rh},
	},
	{
		plain:   "zxcvbnm,./",
		shifted: "ZXCVBNM<>?",
		fingers: []Finger{fp, fr, fm, fi, fi, fi, fi, fm, fr, fp},
		hands:   []Hand{lh, lh, lh, lh, lh, rh, rh, rh, rh, rh},
	},
}

var hints = buildHints()

func buildHints() map[rune]Hint {
	m := map[rune]Hint{
		' ': {Hand: HandBoth, Finger: FingerThumb, Row: 4},
	}
	for row, kr := range qwertyRows {
		plain := []rune(kr.plain)
		shifted := []rune(kr.shifted)
		for i := range plain {
			m[plain[i]] = Hint{Hand: kr.hands[i], Finger: kr.fingers[i], Row: row}
			m[shifted[i]] = Hint{Hand: kr.hands[i], Finger: kr.fingers[i], Row: row, Shift: true}
		}
	}
	return m
}

// HintFor reports the finger for r, or false when r is not on the layout.
func HintFor(r rune) (Hint, bool) {
	h, ok := hints[r]
	return h, ok
}
