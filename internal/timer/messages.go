package timer

import (
	"slices"
	"strconv"
	"strings"
)

// Class groups a remaining-seconds value into one of the message templates.
type Class int

const (
	ClassNone Class = iota
	ClassFiveMinutes
	ClassOneMinute
	ClassThirtySeconds
	ClassFinal
)

// SecondsPlaceholder is replaced with the remaining seconds in every template.
const SecondsPlaceholder = "<seconds>"

// Classify maps remaining seconds to a template class. Values between 11 and
// 29 have no template.
func Classify(seconds int) Class {
	switch {
	case seconds >= 300:
		return ClassFiveMinutes
	case seconds >= 60:
		return ClassOneMinute
	case seconds >= 30:
		return ClassThirtySeconds
	case seconds <= 10:
		return ClassFinal
	default:
		return ClassNone
	}
}

// Templates are the countdown messages, in broadcast markup.
type Templates struct {
	FiveMinutes   string
	OneMinute     string
	ThirtySeconds string
	TenSeconds    string
}

// DefaultTemplates returns the stock countdown messages.
func DefaultTemplates() Templates {
	return Templates{
		FiveMinutes:   "<gold>5 minutes until recipes are shuffled!</gold>",
		OneMinute:     "<yellow>1 minute until recipes are shuffled!</yellow>",
		ThirtySeconds: "<yellow>30 seconds until recipes are shuffled!</yellow>",
		TenSeconds:    "<red>Recipes will shuffle in <bold><seconds></bold> seconds!</red>",
	}
}

// Format returns the message for seconds remaining, or false when its class
// has no template or the template is empty.
func (t Templates) Format(seconds int) (string, bool) {
	var tpl string
	switch Classify(seconds) {
	case ClassFiveMinutes:
		tpl = t.FiveMinutes
	case ClassOneMinute:
		tpl = t.OneMinute
	case ClassThirtySeconds:
		tpl = t.ThirtySeconds
	case ClassFinal:
		tpl = t.TenSeconds
	}
	if tpl == "" {
		return "", false
	}
	return strings.ReplaceAll(tpl, SecondsPlaceholder, strconv.Itoa(seconds)), true
}

// countdown counts down from the largest threshold. Each next call returns
// the current value and then decrements it.
type countdown struct {
	left       int
	thresholds map[int]struct{}
}

func newCountdown(thresholds []int) *countdown {
	c := &countdown{thresholds: make(map[int]struct{}, len(thresholds))}
	for _, s := range thresholds {
		if s < 0 {
			continue
		}
		c.thresholds[s] = struct{}{}
	}
	if len(thresholds) > 0 {
		c.left = max(0, slices.Max(thresholds))
	}
	return c
}

// next reports the seconds remaining for this tick and whether a threshold matches.
func (c *countdown) next() (int, bool) {
	s := c.left
	c.left--
	_, hit := c.thresholds[s]
	return s, hit
}

// remaining is the value the next tick will report.
func (c *countdown) remaining() int { return max(0, c.left) }
