package probe

import (
	"context"
	"math"
	"time"

	"github.com/diwise/integration-ekokarta/internal/pkg/catalog"
	"github.com/diwise/integration-ekokarta/internal/pkg/ekokarta"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

const (
	DefaultInterval time.Duration = 20 * time.Minute

	// upstream only publishes new measurements once an hour
	hourlyCeiling time.Duration = time.Hour

	fieldMeasurementDate string = "measurementDate"
	fieldTemperature     string = "temperature"
	fieldHumidity        string = "humidity"
	fieldPressure        string = "pressure"
)

type Outcome int

const (
	Skipped Outcome = iota
	Refreshed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Refreshed:
		return "refreshed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type jsonGetter interface {
	GetJSON(ctx context.Context, path string, v any) error
}

// Probe keeps the latest merged measurements of a single station.
//
// A Probe is not safe for concurrent use. Callers must make sure that at most one
// Update is in flight and that reads do not overlap with an Update.
type Probe struct {
	client    jsonGetter
	stationID string
	interval  time.Duration
	now       func() time.Time

	snapshot    map[string]any
	lastSuccess time.Time
}

type Option func(*Probe)

func WithInterval(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Probe) {
		p.now = now
	}
}

func New(client jsonGetter, stationID string, opts ...Option) *Probe {
	p := &Probe{
		client:    client,
		stationID: stationID,
		interval:  DefaultInterval,
		now:       time.Now,
		snapshot:  map[string]any{},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Probe) StationID() string {
	return p.stationID
}

// Update refreshes the snapshot unless the data is still fresh. Failures are logged and
// reported through the returned Outcome, the previous snapshot is kept.
func (p *Probe) Update(ctx context.Context) Outcome {
	log := logging.GetFromContext(ctx)
	now := p.now()

	if p.isFresh(now) {
		log.Debug().Str("station", p.stationID).Msgf("skipping update, last update was %s", p.lastUpdateString())
		return Skipped
	}

	log.Debug().Str("station", p.stationID).Msgf("updating, last update was %s", p.lastUpdateString())

	if err := p.refresh(ctx); err != nil {
		log.Error().Err(err).Str("station", p.stationID).Msg("failed to refresh measurements")
		return Failed
	}

	p.lastSuccess = now

	log.Debug().Str("station", p.stationID).Msgf("updated %d fields", len(p.snapshot))

	return Refreshed
}

// isFresh reports whether the last successful refresh happened within the update interval,
// capped at one hour.
func (p *Probe) isFresh(now time.Time) bool {
	if p.lastSuccess.IsZero() {
		return false
	}

	window := p.interval
	if window > hourlyCeiling {
		window = hourlyCeiling
	}

	return now.Sub(p.lastSuccess) < window
}

func (p *Probe) refresh(ctx context.Context) error {
	measurements := map[string]any{}
	if err := p.client.GetJSON(ctx, ekokarta.LatestMeasurementsPath(p.stationID), &measurements); err != nil {
		return err
	}

	if len(p.snapshot) > 0 && isInvalidTriplet(measurements) {
		log := logging.GetFromContext(ctx)
		log.Debug().Str("station", p.stationID).Msg("ignoring all zero temperature, humidity and pressure")
		delete(measurements, fieldTemperature)
		delete(measurements, fieldHumidity)
		delete(measurements, fieldPressure)
	}

	p.merge(measurements)

	airIndex := map[string]any{}
	if err := p.client.GetJSON(ctx, ekokarta.LatestAirIndexPath(p.stationID), &airIndex); err != nil {
		return err
	}

	p.merge(airIndex)

	return nil
}

func (p *Probe) merge(fields map[string]any) {
	for k, v := range fields {
		p.snapshot[k] = v
	}
}

// isInvalidTriplet reports whether temperature, humidity and pressure are all present and
// exactly zero, which is what the upstream reports during a sensor outage.
func isInvalidTriplet(fields map[string]any) bool {
	for _, k := range []string{fieldTemperature, fieldHumidity, fieldPressure} {
		raw, ok := fields[k]
		if !ok {
			return false
		}
		v, err := catalog.ToFloat(raw)
		if err != nil || v != 0 {
			return false
		}
	}
	return true
}

// Get returns the raw value of a remote field, without any type conversion.
func (p *Probe) Get(field string) (any, bool) {
	v, ok := p.snapshot[field]
	return v, ok
}

func (p *Probe) Float(field string) (float64, bool) {
	raw, ok := p.snapshot[field]
	if !ok {
		return 0, false
	}
	v, err := catalog.ToFloat(raw)
	return v, err == nil
}

func (p *Probe) String(field string) (string, bool) {
	raw, ok := p.snapshot[field]
	if !ok {
		return "", false
	}
	v, err := catalog.ToString(raw)
	return v, err == nil
}

func (p *Probe) Len() int {
	return len(p.snapshot)
}

// LastUpdate returns the measurement time reported by the station.
func (p *Probe) LastUpdate() (time.Time, bool) {
	ms, ok := p.Float(fieldMeasurementDate)
	if !ok {
		return time.Time{}, false
	}

	sec, frac := math.Modf(ms / 1000)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))), true
}

func (p *Probe) lastUpdateString() string {
	if t, ok := p.LastUpdate(); ok {
		return t.Format(time.RFC3339)
	}
	return "never"
}
