package services

import (
	"time"

	"fulfillment-service/models"
)

// SequenceStep is one email of a drip sequence, sent once After has elapsed since enrollment.
type SequenceStep struct {
	After    time.Duration
	Subject  string
	Headline string
	Body     string
	CTALabel string
	CTAPath  string
}

type Sequence struct {
	Name  string
	Steps []SequenceStep
}

func (s Sequence) Thresholds() []time.Duration {
	out := make([]time.Duration, len(s.Steps))
	for i, st := range s.Steps {
		out[i] = st.After
	}
	return out
}

// NextStep decides which step, if any, a recipient should receive now.
// thresholds[i] is the elapsed time at which step i+1 becomes due. A recipient never
// moves more than one step per call, even if several thresholds have passed.
func NextStep(elapsed time.Duration, lastStep int, thresholds []time.Duration) (int, bool) {
	if len(thresholds) == 0 || lastStep >= len(thresholds) {
		return 0, false
	}

	target := 0
	for i, th := range thresholds {
		if elapsed >= th {
			target = i + 1
		}
	}
	if target == 0 && lastStep == 0 {
		target = 1
	}
	if lastStep >= target {
		return 0, false
	}

	next := lastStep + 1
	if elapsed < thresholds[next-1] {
		return 0, false
	}
	return next, true
}

const day = 24 * time.Hour

// DefaultSequences are the two drip campaigns the storefront runs.
func DefaultSequences() map[string]Sequence {
	return map[string]Sequence{
		models.SequencePrintUpsell: {
			Name: models.SequencePrintUpsell,
			Steps: []SequenceStep{
				{After: 0, Subject: "See your portrait on canvas", Headline: "Picture it on your wall",
					Body: "Your portrait looks even better printed on gallery-wrapped canvas.", CTALabel: "Preview a canvas", CTAPath: "/prints"},
				{After: day, Subject: "Sizes that fit any room", Headline: "From desk to gallery wall",
					Body: "Our canvases come in five sizes, from 8x10 up to 24x36.", CTALabel: "Compare sizes", CTAPath: "/prints"},
				{After: 3 * day, Subject: "Made to last", Headline: "Printed with archival inks",
					Body: "Every canvas is hand-stretched and printed to last for decades.", CTALabel: "Order a canvas", CTAPath: "/prints"},
				{After: 7 * day, Subject: "A gift they will keep", Headline: "The most personal gift",
					Body: "A canvas portrait makes a gift nobody else can give.", CTALabel: "Order a canvas", CTAPath: "/prints"},
				{After: 21 * day, Subject: "Still thinking about it?", Headline: "Your portrait is waiting",
					Body: "Your artwork is saved and ready to print whenever you are.", CTALabel: "Print my portrait", CTAPath: "/prints"},
				{After: 30 * day, Subject: "Last reminder about your canvas", Headline: "One last look",
					Body: "This is our final note about printing your portrait.", CTALabel: "Print my portrait", CTAPath: "/prints"},
			},
		},
		models.SequenceLeadNurture: {
			Name: models.SequenceLeadNurture,
			Steps: []SequenceStep{
				{After: 0, Subject: "Your portrait preview is saved", Headline: "Welcome",
					Body: "We saved your preview so you can come back to it any time.", CTALabel: "View my preview", CTAPath: "/create"},
				{After: day, Subject: "Unlock the full-resolution portrait", Headline: "Get the full portrait",
					Body: "Unlock the high-resolution file without the watermark.", CTALabel: "Unlock now", CTAPath: "/create"},
				{After: 3 * day, Subject: "How other owners use their portraits", Headline: "Ideas for your portrait",
					Body: "Phone wallpapers, prints, cards and more.", CTALabel: "See ideas", CTAPath: "/gallery"},
				{After: 7 * day, Subject: "Your preview expires soon", Headline: "Don't lose your preview",
					Body: "Previews are kept for a limited time.", CTALabel: "Unlock now", CTAPath: "/create"},
			},
		},
	}
}
