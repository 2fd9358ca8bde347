package application

import (
	"context"
	"fmt"

	"github.com/diwise/context-broker/pkg/ngsild/client"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

type Application interface {
	Adapters() []Adapter
	Run(ctx context.Context) error
}

type app struct {
	resolved  Resolved
	adapters  []Adapter
	scheduler *Scheduler
}

// New creates the adapters for a resolved station. Sensor adapters are only created when a
// publisher is given.
func New(ctx context.Context, source MeasurementSource, resolved Resolved, cb client.ContextBrokerClient, publisher Publisher) (Application, error) {
	settings := resolved.Settings.WithDefaults()

	a := &app{
		resolved:  resolved,
		scheduler: NewScheduler(ctx, settings.Interval),
	}

	if publisher != nil {
		for _, key := range settings.MonitoredConditions {
			sensor, err := NewSensorAdapter(source, key, settings.Name, publisher)
			if err != nil {
				return nil, err
			}
			a.adapters = append(a.adapters, sensor)
		}
	}

	if cb != nil {
		a.adapters = append(a.adapters,
			NewAirQualityAdapter(source, cb, resolved.Station, settings.Name),
			NewWeatherAdapter(source, cb, resolved.Station, settings.Name),
		)
	}

	if len(a.adapters) == 0 {
		return nil, fmt.Errorf("nothing to publish to for station %s", source.StationID())
	}

	a.scheduler.Add(a.adapters...)

	return a, nil
}

func (a *app) Adapters() []Adapter {
	return a.adapters
}

// Run blocks until ctx is cancelled.
func (a *app) Run(ctx context.Context) error {
	log := logging.GetFromContext(ctx)

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	log.Info().Str("station", a.resolved.Settings.StationID).Msgf("polling %s every %s", a.resolved.Station.Name, a.resolved.Settings.WithDefaults().Interval)

	<-ctx.Done()

	log.Info().Msg("shutting down")
	a.scheduler.Stop()

	return nil
}
