package sensor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"arraymon/internal/metrics"
	"arraymon/internal/types"
)

// Device reads blocks of raw voltages from the acquisition hardware.
type Device interface {
	// Sample returns n readings in volts for every analog input, indexed
	// [input][sample].
	Sample(ctx context.Context, n int) ([][]float64, error)
	// SetBias drives the analog output used as bridge excitation.
	SetBias(volts float64) error
	Close() error
}

// OffsetSource provides the additive irradiance correction per channel.
type OffsetSource interface {
	Offset(channel string) float64
}

type channelKind int

const (
	temperature channelKind = iota
	irradiance
)

// Channel binds a variable to a physical analog input.
type Channel struct {
	Variable string
	Input    int
	kind     channelKind
}

// Channels lists the wired inputs in output order.
var Channels = []Channel{
	{Variable: types.Tmod, Input: 0, kind: temperature},
	{Variable: types.Tair, Input: 4, kind: temperature},
	{Variable: types.POA, Input: 2, kind: irradiance},
	{Variable: types.POA2, Input: 6, kind: irradiance},
	{Variable: types.GHI, Input: 1, kind: irradiance},
	{Variable: types.ALB, Input: 3, kind: irradiance},
}

// IrradianceChannels are the channels that carry a calibration offset.
var IrradianceChannels = []string{types.POA, types.POA2, types.GHI, types.ALB}

type Acquirer struct {
	device  Device
	offsets OffsetSource
	faults  *Faults
	logger  *slog.Logger

	samples int
	timeout time.Duration
	now     func() time.Time

	unavailable bool
}

type Options struct {
	Samples int
	Timeout time.Duration
	Now     func() time.Time
}

func NewAcquirer(device Device, offsets OffsetSource, faults *Faults, logger *slog.Logger, opts Options) *Acquirer {
	if opts.Samples <= 0 {
		opts.Samples = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Acquirer{
		device:  device,
		offsets: offsets,
		faults:  faults,
		logger:  logger,
		samples: opts.Samples,
		timeout: opts.Timeout,
		now:     opts.Now,
	}
}

// Acquire reads one block from the device and converts it. It never fails:
// an unreadable device yields NaN magnitudes with empty units, and a bad
// temperature conversion yields NaN for that channel only.
func (a *Acquirer) Acquire(ctx context.Context) types.ReadingSet {
	now := a.now()

	readCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	block, err := a.device.Sample(readCtx, a.samples)
	if err != nil {
		metrics.DeviceUnavailable()
		if !a.unavailable {
			a.logger.Warn("acquisition device unavailable", "error", err)
		}
		a.unavailable = true
		return unavailableSet(now)
	}
	if a.unavailable {
		a.logger.Info("acquisition device recovered")
		a.unavailable = false
	}

	out := make(types.ReadingSet, 0, len(Channels))
	for _, ch := range Channels {
		volts := math.NaN()
		if ch.Input < len(block) {
			volts = blockMean(block[ch.Input])
		}
		out = append(out, a.convert(ch, volts, now))
	}
	return out
}

func (a *Acquirer) convert(ch Channel, volts float64, now time.Time) types.Reading {
	switch ch.kind {
	case temperature:
		t, err := Thermistor(volts)
		if err != nil && a.faults.Raise(ch.Variable, now) {
			a.logger.Error("temperature conversion fault", "channel", ch.Variable, "volts", volts, "error", err)
		}
		return types.Reading{Variable: ch.Variable, Magnitude: t, Unit: "C", Time: now}
	default:
		offset := 0.0
		if a.offsets != nil {
			offset = a.offsets.Offset(ch.Variable)
		}
		return types.Reading{
			Variable:  ch.Variable,
			Magnitude: Irradiance(volts, Sensitivity[ch.Variable], offset),
			Unit:      "W/m2",
			Time:      now,
		}
	}
}

func unavailableSet(now time.Time) types.ReadingSet {
	out := make(types.ReadingSet, 0, len(Channels))
	for _, ch := range Channels {
		out = append(out, types.Reading{Variable: ch.Variable, Magnitude: math.NaN(), Time: now})
	}
	return out
}
