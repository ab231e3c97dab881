package typing

// Status is the scoring state of one passage character.
type Status int

const (
	StatusPending Status = iota
	StatusCurrent
	StatusCorrect
	StatusIncorrect
)

func (s Status) String() string {
	switch s {
	case StatusCurrent:
		return "current"
	case StatusCorrect:
		return "correct"
	case StatusIncorrect:
		return "incorrect"
	default:
		return "pending"
	}
}

type Slot struct {
	Char   rune
	Status Status
}

func newSlots(passage []rune) []Slot {
	slots := make([]Slot, len(passage))
	for i, r := range passage {
		slots[i] = Slot{Char: r, Status: StatusPending}
	}
	if len(slots) > 0 {
		slots[0].Status = StatusCurrent
	}
	return slots
}
