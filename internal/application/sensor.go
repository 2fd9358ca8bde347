package application

import (
	"context"
	"fmt"
	"time"

	"github.com/diwise/integration-ekokarta/internal/pkg/catalog"
	"github.com/diwise/integration-ekokarta/internal/pkg/mqtt"
	"github.com/diwise/integration-ekokarta/internal/pkg/probe"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

const Attribution string = "Data provided by Eko Karta Zagreb"

type MeasurementSource interface {
	Update(ctx context.Context) probe.Outcome
	LastUpdate() (time.Time, bool)
	Get(field string) (any, bool)
	Float(field string) (float64, bool)
	String(field string) (string, bool)
	StationID() string
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type Adapter interface {
	Name() string
	Update(ctx context.Context) error
}

type SensorState struct {
	Name       string         `json:"name"`
	State      any            `json:"state,omitempty"`
	Unit       string         `json:"unit_of_measurement,omitempty"`
	Icon       string         `json:"icon,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

// SensorAdapter publishes the state of a single measurement key.
type SensorAdapter struct {
	source     MeasurementSource
	spec       catalog.FieldSpec
	name       string
	publisher  Publisher
	lastUpdate time.Time
}

func NewSensorAdapter(source MeasurementSource, key catalog.Key, name string, publisher Publisher) (*SensorAdapter, error) {
	spec, ok := catalog.Default().Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownKey, key)
	}

	return &SensorAdapter{
		source:    source,
		spec:      spec,
		name:      name,
		publisher: publisher,
	}, nil
}

func (s *SensorAdapter) Name() string {
	return fmt.Sprintf("%s %s", s.name, s.spec.ShortLabel)
}

func (s *SensorAdapter) Topic() string {
	return mqtt.Topic(s.source.StationID(), string(s.spec.Key))
}

func (s *SensorAdapter) Update(ctx context.Context) error {
	log := logging.GetFromContext(ctx).With().Str("sensor", s.Name()).Logger()

	s.source.Update(ctx)

	lastUpdate, ok := s.source.LastUpdate()
	if !ok || lastUpdate.Equal(s.lastUpdate) {
		log.Debug().Msg("no update found")
		return nil
	}

	state := s.State()

	if err := s.publisher.Publish(ctx, s.Topic(), state); err != nil {
		return fmt.Errorf("failed to publish %s: %w", s.spec.Key, err)
	}

	s.lastUpdate = lastUpdate
	log.Debug().Msgf("published state, last update %s", lastUpdate.UTC().Format(time.RFC3339))

	return nil
}

// State reads the current state of the sensor from the measurement source.
func (s *SensorAdapter) State() SensorState {
	state := SensorState{
		Name: s.Name(),
		Unit: s.spec.Unit,
		Icon: s.spec.Icon,
		Attributes: map[string]any{
			"attribution": Attribution,
		},
	}

	if raw, ok := s.source.Get(s.spec.RemoteField); ok {
		if v, err := s.spec.Cast(raw); err == nil {
			state.State = v
		}
	}

	if station, ok := s.source.String(catalog.Default().MustLookup(catalog.Location).RemoteField); ok {
		state.Attributes["station"] = station
	}

	if lastUpdate, ok := s.source.LastUpdate(); ok {
		state.Attributes["updated"] = lastUpdate.UTC().Format(time.RFC3339)
	}

	if s.spec.IndexField != "" {
		if v, ok := s.source.Get(s.spec.IndexField); ok {
			state.Attributes["Index"] = v
		}
	}

	if s.spec.AverageField != "" {
		if v, ok := s.source.Get(s.spec.AverageField); ok {
			state.Attributes["Average"] = v
		}
	}

	return state
}
