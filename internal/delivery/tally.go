package delivery

import "fmt"

// Tally accumulates outcomes. Sent+Blocked+Failed always equals Total().
type Tally struct {
	Sent    int
	Blocked int
	Failed  int

	// Errors keeps at most the configured number of "id: error" samples.
	Errors      []string
	maxSamples  int
	errorsTotal int
}

func NewTally(maxSamples int) *Tally {
	return &Tally{maxSamples: maxSamples}
}

func (t *Tally) Add(o Outcome) {
	switch o.Status {
	case Sent:
		t.Sent++
	case Blocked:
		t.Blocked++
	default:
		t.Failed++
		t.errorsTotal++
		if len(t.Errors) < t.maxSamples {
			t.Errors = append(t.Errors, fmt.Sprintf("%d: %s", o.RecipientID, o.Error))
		}
	}
}

func (t *Tally) AddAll(outs []Outcome) {
	for _, o := range outs {
		t.Add(o)
	}
}

func (t *Tally) Total() int { return t.Sent + t.Blocked + t.Failed }

// Omitted is the number of failures not kept in Errors.
func (t *Tally) Omitted() int { return t.errorsTotal - len(t.Errors) }
