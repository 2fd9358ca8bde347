package stations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/diwise/integration-ekokarta/internal/pkg/ekokarta"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// MeasurementTypeAir is the measurement type name ("zrak") of the air quality stations.
const MeasurementTypeAir string = "zrak"

type Station struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Name      string  `json:"name"`
}

// Directory holds the known air quality stations keyed by station id.
type Directory map[string]Station

type Point struct {
	Latitude  float64
	Longitude float64
}

type jsonGetter interface {
	GetJSON(ctx context.Context, path string, v any) error
}

type stationDescriptor struct {
	ID              flexString `json:"id"`
	Name            string     `json:"name"`
	MeasurementType struct {
		Name string `json:"name"`
	} `json:"measurementType"`
	CoordinateX flexFloat `json:"coordinateX"`
	CoordinateY flexFloat `json:"coordinateY"`
}

// FetchStations retrieves the station list and keeps the air quality stations only.
// Errors are returned as is, callers are expected to abort their setup.
func FetchStations(ctx context.Context, c jsonGetter) (Directory, error) {
	log := logging.GetFromContext(ctx)

	var descriptors []stationDescriptor
	if err := c.GetJSON(ctx, ekokarta.StationsPath, &descriptors); err != nil {
		return nil, fmt.Errorf("failed to fetch station list: %w", err)
	}

	dir := Directory{}

	for _, d := range descriptors {
		if d.MeasurementType.Name != MeasurementTypeAir {
			continue
		}

		id := string(d.ID)
		if id == "" {
			log.Warn().Str("name", d.Name).Msg("ignoring station without id")
			continue
		}

		lat, lon := ToLatLon(float64(d.CoordinateX), float64(d.CoordinateY))
		dir[id] = Station{
			ID:        id,
			Latitude:  lat,
			Longitude: lon,
			Name:      d.Name,
		}
	}

	log.Debug().Msgf("found %d air quality stations out of %d", len(dir), len(descriptors))

	return dir, nil
}

// ToLatLon converts the network's projected coordinates to latitude and longitude using a
// fixed affine approximation. It is only usable within the Zagreb metropolitan area and is
// not a general purpose projection.
func ToLatLon(coordinateX, coordinateY float64) (lat, lon float64) {
	lat = coordinateY*0.00000909836 - 0.360421
	lon = coordinateX*0.0000128768 + 10.0617
	return
}

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}

	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("failed to parse coordinate %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}
