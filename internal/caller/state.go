package caller

import (
	"fmt"
	"strings"
)

// State is the counter's current queue number and operator. Both are >= 1.
type State struct {
	Queue    int
	Operator int
}

func DefaultState() State { return State{Queue: 1, Operator: 1} }

// Navigate moves the queue number by dir, never below 1.
func (s State) Navigate(dir int) State {
	s.Queue = max(1, s.Queue+dir)
	return s
}

// Request is the transient input of one announcement.
type Request struct {
	QueueNumber   string
	OperatorLabel string
	Volume        float64
}

// FormatQueueNumber zero-pads n to at least three digits.
func FormatQueueNumber(n int) string {
	return fmt.Sprintf("%03d", n)
}

// SplitDigits spaces out each character so digits are read one by one.
func SplitDigits(s string) string {
	return strings.Join(strings.Split(s, ""), " ")
}

func OperatorLabel(n int) string { return fmt.Sprintf("Operator %d", n) }

// OperatorDisplay is the upper-case form shown on the board.
func OperatorDisplay(n int) string { return fmt.Sprintf("OPERATOR %d", n) }

// Snapshot is a read-only view for the presentation layer.
type Snapshot struct {
	Queue           int     `json:"queue"`
	Operator        int     `json:"operator"`
	QueueDisplay    string  `json:"queue_display"`
	OperatorDisplay string  `json:"operator_display"`
	Volume          float64 `json:"volume"`
	Speaking        bool    `json:"speaking"`
	Calling         bool    `json:"calling"`
	Available       bool    `json:"available"`
}

func fill(text string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
