package application

import (
	"context"
	"time"

	"github.com/diwise/context-broker/pkg/datamodels/fiware"
	"github.com/diwise/context-broker/pkg/ngsild/client"
	"github.com/diwise/integration-ekokarta/internal/pkg/catalog"
	"github.com/diwise/integration-ekokarta/internal/pkg/stations"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

var airQualityAttributes = []observedAttribute{
	{key: catalog.AirQualityIndex, property: "airQualityIndex"},
	{key: catalog.CarbonMonoxide, property: "CO"},
	{key: catalog.NitrogenMonoxide, property: "NO"},
	{key: catalog.NitrogenDioxide, property: "NO2"},
	{key: catalog.Ozone, property: "O3"},
	{key: catalog.ParticulateMatter1, property: "PM1"},
	{key: catalog.ParticulateMatter10, property: "PM10"},
	{key: catalog.ParticulateMatter2_5, property: "PM25"},
	{key: catalog.SulphurDioxide, property: "SO2"},
}

// relative humidity is reported in percent but modelled as a fraction
var weatherAttributes = []observedAttribute{
	{key: catalog.Temperature, property: "temperature"},
	{key: catalog.Humidity, property: "relativeHumidity", divisor: 100},
	{key: catalog.Pressure, property: "atmosphericPressure"},
}

// ObservedAdapter keeps one NGSI-LD entity in the context broker in sync with the station.
type ObservedAdapter struct {
	source     MeasurementSource
	cb         client.ContextBrokerClient
	station    stations.Station
	name       string
	entityID   string
	typeName   string
	attributes []observedAttribute
	lastUpdate time.Time
}

func NewAirQualityAdapter(source MeasurementSource, cb client.ContextBrokerClient, station stations.Station, name string) *ObservedAdapter {
	return &ObservedAdapter{
		source:     source,
		cb:         cb,
		station:    station,
		name:       name,
		entityID:   entityID(AirQualityObservedIDPrefix, source.StationID()),
		typeName:   AirQualityObservedTypeName,
		attributes: airQualityAttributes,
	}
}

func NewWeatherAdapter(source MeasurementSource, cb client.ContextBrokerClient, station stations.Station, name string) *ObservedAdapter {
	return &ObservedAdapter{
		source:     source,
		cb:         cb,
		station:    station,
		name:       name,
		entityID:   entityID(fiware.WeatherObservedIDPrefix, source.StationID()),
		typeName:   fiware.WeatherObservedTypeName,
		attributes: weatherAttributes,
	}
}

func (a *ObservedAdapter) Name() string {
	return a.name
}

func (a *ObservedAdapter) EntityID() string {
	return a.entityID
}

func (a *ObservedAdapter) Update(ctx context.Context) error {
	log := logging.GetFromContext(ctx).With().Str("entity", a.entityID).Logger()

	a.source.Update(ctx)

	lastUpdate, ok := a.source.LastUpdate()
	if !ok || lastUpdate.Equal(a.lastUpdate) {
		log.Debug().Msg("no update found")
		return nil
	}

	log.Debug().Msg("updated from last date found")

	attributes := observedAttributes(a.source, lastUpdate, a.attributes)

	station := a.station
	if station.Name == "" {
		station.Name = a.name
	}

	if err := mergeOrCreate(ctx, a.cb, a.entityID, a.typeName, station, attributes); err != nil {
		return err
	}

	a.lastUpdate = lastUpdate

	return nil
}
