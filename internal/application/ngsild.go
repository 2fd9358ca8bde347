package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/context-broker/pkg/ngsild/client"
	ngsierrors "github.com/diwise/context-broker/pkg/ngsild/errors"
	"github.com/diwise/context-broker/pkg/ngsild/types/entities"
	"github.com/diwise/context-broker/pkg/ngsild/types/entities/decorators"
	"github.com/diwise/context-broker/pkg/ngsild/types/properties"
	"github.com/diwise/integration-ekokarta/internal/pkg/catalog"
	"github.com/diwise/integration-ekokarta/internal/pkg/stations"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

const (
	AirQualityObservedIDPrefix string = "urn:ngsi-ld:AirQualityObserved:"
	AirQualityObservedTypeName string = "AirQualityObserved"

	entityIDInfix string = "ekokarta:"
)

type observedAttribute struct {
	key      catalog.Key
	property string
	divisor  float64
}

func entityID(prefix, stationID string) string {
	return fmt.Sprintf("%s%s%s", prefix, entityIDInfix, stationID)
}

// observedAttributes reads the listed measurements from the source. Missing or non numeric
// values are left out.
func observedAttributes(source MeasurementSource, observedAt time.Time, attrs []observedAttribute) []entities.EntityDecoratorFunc {
	utcTime := observedAt.UTC().Format(time.RFC3339)

	attributes := make([]entities.EntityDecoratorFunc, 0, len(attrs)+1)

	for _, a := range attrs {
		spec := catalog.Default().MustLookup(a.key)

		v, ok := source.Float(spec.RemoteField)
		if !ok {
			continue
		}

		if a.divisor != 0 {
			v = v / a.divisor
		}

		attributes = append(attributes, decorators.Number(a.property, v, properties.ObservedAt(utcTime)))
	}

	return append(attributes, decorators.DateTime("dateObserved", utcTime))
}

func mergeOrCreate(ctx context.Context, cb client.ContextBrokerClient, entityID, typeName string, station stations.Station, attributes []entities.EntityDecoratorFunc) error {
	log := logging.GetFromContext(ctx)

	fragment, err := entities.NewFragment(attributes...)
	if err != nil {
		return fmt.Errorf("failed to create entity fragment: %w", err)
	}

	headers := map[string][]string{"Content-Type": {"application/ld+json"}}

	log.Info().Msgf("merging entity %s", entityID)
	_, err = cb.MergeEntity(ctx, entityID, fragment, headers)
	if err == nil {
		return nil
	}

	if !errors.Is(err, ngsierrors.ErrNotFound) {
		return fmt.Errorf("failed to merge entity %s: %w", entityID, err)
	}

	log.Info().Msgf("entity with id %s not found, attempting create", entityID)

	attributes = append(attributes, decorators.Location(station.Latitude, station.Longitude), decorators.Name(station.Name))

	entity, err := entities.New(entityID, typeName, attributes...)
	if err != nil {
		return fmt.Errorf("failed to construct new entity: %w", err)
	}

	_, err = cb.CreateEntity(ctx, entity, headers)
	if err != nil {
		return fmt.Errorf("failed to create entity %s: %w", entityID, err)
	}

	return nil
}
