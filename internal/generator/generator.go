package generator

import "github.com/openperf/corenet/errs"

// Flow limits per spec §4.7: "total flow count <= api_flow_limit
// without signatures, <= signature_flow_limit (65536) with
// signatures."
const (
	apiFlowLimit       = 1 << 20
	signatureFlowLimit = 65536
)

// PeriodType names the recognized time-unit periods for durations and
// load rates.
type PeriodType int

const (
	PeriodNone PeriodType = iota
	PeriodHours
	PeriodMinutes
	PeriodSeconds
	PeriodMilliseconds
	PeriodMicroseconds
	PeriodNanoseconds
)

// DurationKind selects how a generator's run length is bounded.
type DurationKind int

const (
	DurationContinuous DurationKind = iota
	DurationFrames
	DurationTime
)

// Duration describes how long a generator runs, grounded on
// validation.cpp's duration checks.
type Duration struct {
	Kind   DurationKind
	Frames int64
	Time   int64
	Unit   PeriodType
}

// Validate enforces "duration is continuous | frames>0 | time>0 with
// a recognized unit."
func (d Duration) Validate() error {
	switch d.Kind {
	case DurationContinuous:
		return nil
	case DurationFrames:
		if d.Frames < 1 {
			return errs.New(errs.Invalid, "duration frame limit must be positive")
		}
		return nil
	case DurationTime:
		if d.Time < 1 {
			return errs.New(errs.Invalid, "duration time value must be positive")
		}
		if d.Unit == PeriodNone {
			return errs.New(errs.Invalid, "duration time units are invalid")
		}
		return nil
	default:
		return errs.New(errs.Invalid, "no duration configuration found")
	}
}

// LoadUnits names what a load rate is expressed in.
type LoadUnits int

const (
	LoadUnitsNone LoadUnits = iota
	LoadFrames
	LoadOctets
	LoadPercent
)

// Load describes a generator's transmit rate, grounded on
// validation.cpp's load checks.
type Load struct {
	BurstSize  int
	RateValue  int64
	RatePeriod PeriodType
	Units      LoadUnits
}

// Validate enforces "burst size (if set) > 0; load rate value > 0 with
// a recognized period and units." Weight is checked by
// Definition.Validate.
func (l Load) Validate() error {
	if l.BurstSize != 0 && l.BurstSize < 1 {
		return errs.New(errs.Invalid, "load burst size must be positive")
	}
	if l.RateValue < 1 {
		return errs.New(errs.Invalid, "load rate value must be positive")
	}
	if l.RatePeriod == PeriodNone {
		return errs.New(errs.Invalid, "load period is invalid")
	}
	if l.Units == LoadUnitsNone {
		return errs.New(errs.Invalid, "load units are invalid")
	}
	return nil
}

// Definition is one fully-validated generator: a packet template
// expanded across a modifier tie, a length policy, an optional
// signature, and the duration/load/weight controlling how it runs.
type Definition struct {
	Template Template
	Tie      Tie
	Weight   float64

	Duration Duration
	Load     Load
}

// Validate runs every static check from spec §4.7's validation
// bounds list and returns the definition's expanded flow count.
func (d *Definition) Validate() (flowCount int, err error) {
	if err := d.Template.Length.Validate(); err != nil {
		return 0, err
	}
	flowCount, err = d.Tie.Length()
	if err != nil {
		return 0, err
	}
	if d.Weight < 0 {
		return 0, errs.New(errs.Invalid, "weight must be positive")
	}
	if d.Template.Signature.Enabled {
		if flowCount > signatureFlowLimit {
			return 0, errs.New(errs.OutOfRange, "flow count exceeds signature flow limit of 65536")
		}
	} else if flowCount > apiFlowLimit {
		return 0, errs.New(errs.OutOfRange, "flow count exceeds api flow limit")
	}
	if err := d.Duration.Validate(); err != nil {
		return 0, err
	}
	if err := d.Load.Validate(); err != nil {
		return 0, err
	}
	return flowCount, nil
}

// Expand materializes every frame the definition's tie produces,
// assigning sequential signature sequence numbers starting at zero.
// timestamp is supplied by the caller (typically the scheduler's
// clock at transmit time) rather than computed here, keeping Expand
// pure and independent of wall-clock reads.
func (d *Definition) Expand(timestamp uint64) ([][]byte, error) {
	count, err := d.Tie.Length()
	if err != nil {
		return nil, err
	}
	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		length := d.frameLength(i)
		frame, err := d.Template.Build(length, uint32(i), timestamp)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (d *Definition) frameLength(i int) int {
	switch d.Template.Length.Kind {
	case LengthFixed:
		return d.Template.Length.Fixed
	case LengthList:
		l := d.Template.Length.List
		return l[i%len(l)]
	case LengthSequence:
		seq := d.Template.Length.Seq
		return seq.Value(i % seq.Count())
	default:
		return minPacketLength
	}
}
