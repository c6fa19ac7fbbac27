// Package report tracks report composition, renders preview plans
// and keeps the history of generated reports.
package report

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/wesm/botsview/internal/filter"
)

// Section is one block a report can contain.
type Section string

const (
	SectionKPISummary   Section = "KPI summary"
	SectionTrends       Section = "Trends"
	SectionDrivers      Section = "Drivers"
	SectionChannelSplit Section = "Channel split"
	SectionDrilldown    Section = "Session drilldown"
)

// AllSections is the fixed section vocabulary in display order.
var AllSections = []Section{
	SectionKPISummary, SectionTrends, SectionDrivers,
	SectionChannelSplit, SectionDrilldown,
}

// Valid reports whether s belongs to the vocabulary.
func (s Section) Valid() bool {
	return slices.Contains(AllSections, s)
}

// Templates lists the report templates.
var Templates = []string{
	"Executive Weekly", "Ops Daily", "Bot Improvement",
	"Reliability", "Handoff",
}

// Format is an export output format.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatCSV Format = "csv"
)

// ParseFormat validates s.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPDF, FormatCSV:
		return Format(s), nil
	}
	return "", fmt.Errorf("invalid output format %q: must be pdf or csv", s)
}

// SectionSet is an insertion-ordered set of sections. Operations
// return new sets. A removed section remembers its slot, so
// toggling it back restores the previous order exactly.
type SectionSet struct {
	slots []slot
}

type slot struct {
	name Section
	on   bool
}

// NewSectionSet builds a set, dropping duplicates. Unknown
// sections are an error.
func NewSectionSet(items ...Section) (SectionSet, error) {
	var s SectionSet
	for _, it := range items {
		if !it.Valid() {
			return SectionSet{}, fmt.Errorf("%w: %q", ErrUnknownSection, it)
		}
		if !s.Contains(it) {
			s.slots = append(s.slots, slot{name: it, on: true})
		}
	}
	return s, nil
}

func (s SectionSet) index(name Section) int {
	return slices.IndexFunc(s.slots, func(sl slot) bool {
		return sl.name == name
	})
}

// Toggle adds name when absent and removes it when present. The
// remaining sections keep their order.
func (s SectionSet) Toggle(name Section) SectionSet {
	slots := slices.Clone(s.slots)
	if i := s.index(name); i >= 0 {
		slots[i].on = !slots[i].on
	} else {
		slots = append(slots, slot{name: name, on: true})
	}
	return SectionSet{slots: slots}
}

func (s SectionSet) Contains(name Section) bool {
	i := s.index(name)
	return i >= 0 && s.slots[i].on
}

func (s SectionSet) Len() int {
	n := 0
	for _, sl := range s.slots {
		if sl.on {
			n++
		}
	}
	return n
}

// Items returns the selected sections in order.
func (s SectionSet) Items() []Section {
	out := make([]Section, 0, len(s.slots))
	for _, sl := range s.slots {
		if sl.on {
			out = append(out, sl.name)
		}
	}
	return out
}

// Equal reports whether both sets select the same sections in the
// same order.
func (s SectionSet) Equal(o SectionSet) bool {
	return slices.Equal(s.Items(), o.Items())
}

func (s SectionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Items())
}

func (s *SectionSet) UnmarshalJSON(data []byte) error {
	var items []Section
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	set, err := NewSectionSet(items...)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// Spec defines one report. It is handed by value to the export
// service.
type Spec struct {
	Template     string           `json:"template"`
	Bots         filter.BotSet    `json:"bots"`
	Channel      filter.Channel   `json:"channel"`
	Queue        string           `json:"queue"`
	Locale       string           `json:"locale"`
	Range        filter.DateRange `json:"date_range"`
	Sections     SectionSet       `json:"sections"`
	OutputFormat Format           `json:"output_format"`
}

// DefaultSpec returns the report a new builder starts from.
func DefaultSpec(bots []string, rng filter.DateRange) Spec {
	sections, _ := NewSectionSet(
		SectionKPISummary, SectionTrends, SectionDrivers,
	)
	return Spec{
		Template:     Templates[0],
		Bots:         filter.NewBotSet(bots...),
		Channel:      filter.ChannelAll,
		Range:        rng,
		Sections:     sections,
		OutputFormat: FormatPDF,
	}
}

// Filter returns the dashboard filter equivalent of the report's
// scope, used to derive preview content.
func (s Spec) Filter() filter.Spec {
	return filter.Spec{
		Bots:            s.Bots,
		Range:           s.Range,
		ComparePrevious: true,
		Channel:         s.Channel,
		Advanced: filter.Advanced{
			Queue:  s.Queue,
			Locale: s.Locale,
		},
	}
}

// Scope is a partial update of the report's scope filters. Nil
// fields are left unchanged.
type Scope struct {
	Bots    *filter.BotSet    `json:"bots,omitempty"`
	Channel *filter.Channel   `json:"channel,omitempty"`
	Queue   *string           `json:"queue,omitempty"`
	Locale  *string           `json:"locale,omitempty"`
	Range   *filter.DateRange `json:"date_range,omitempty"`
}

func (s Spec) withScope(sc Scope) Spec {
	if sc.Bots != nil {
		s.Bots = *sc.Bots
	}
	if sc.Channel != nil {
		s.Channel = *sc.Channel
	}
	if sc.Queue != nil {
		s.Queue = *sc.Queue
	}
	if sc.Locale != nil {
		s.Locale = *sc.Locale
	}
	if sc.Range != nil {
		s.Range = *sc.Range
	}
	return s
}
