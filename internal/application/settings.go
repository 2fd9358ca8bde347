package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/integration-ekokarta/internal/pkg/catalog"
	"github.com/diwise/integration-ekokarta/internal/pkg/probe"
	"github.com/diwise/integration-ekokarta/internal/pkg/stations"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

const DefaultName string = "eko_karta_zagreb"

var (
	ErrDirectoryUnavailable = errors.New("station directory is unavailable")
	ErrUnknownStation       = errors.New("configured station is not a known station")
	ErrNoStation            = errors.New("no station configured and none could be resolved from coordinates")
	ErrPartialLocation      = errors.New("latitude and longitude must both be set or both be left empty")
)

type Settings struct {
	StationID           string
	Name                string
	Location            *stations.Point
	MonitoredConditions []catalog.Key
	Interval            time.Duration
}

// WithDefaults fills in the name, the monitored conditions and the update interval when they are
// left empty.
func (s Settings) WithDefaults() Settings {
	if s.Name == "" {
		s.Name = DefaultName
	}
	if len(s.MonitoredConditions) == 0 {
		s.MonitoredConditions = []catalog.Key{catalog.Temperature}
	}
	if s.Interval <= 0 {
		s.Interval = probe.DefaultInterval
	}
	return s
}

// ParseLocation returns nil when both lat and lon are empty.
func ParseLocation(lat, lon string) (*stations.Point, error) {
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)

	if lat == "" && lon == "" {
		return nil, nil
	}

	if lat == "" || lon == "" {
		return nil, ErrPartialLocation
	}

	latitude, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse latitude %q: %w", lat, err)
	}

	longitude, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse longitude %q: %w", lon, err)
	}

	return &stations.Point{Latitude: latitude, Longitude: longitude}, nil
}

// ParseConditions splits a comma separated list of measurement keys and validates them against
// the catalog.
func ParseConditions(conditions string) ([]catalog.Key, error) {
	if strings.TrimSpace(conditions) == "" {
		return nil, nil
	}
	return catalog.Default().ParseKeys(strings.Split(conditions, ","))
}

// directoryError matches ErrDirectoryUnavailable and unwraps to the loader error.
type directoryError struct {
	err error
}

func (e *directoryError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDirectoryUnavailable.Error(), e.err.Error())
}

func (e *directoryError) Is(target error) bool {
	return target == ErrDirectoryUnavailable
}

func (e *directoryError) Unwrap() error {
	return e.err
}

type DirectoryLoader func(ctx context.Context) (stations.Directory, error)

// Resolved is the outcome of a successful setup.
type Resolved struct {
	Settings Settings
	Station  stations.Station
}

// Setup loads the station directory and picks the station to poll. An explicit station id
// wins over coordinates.
func Setup(ctx context.Context, settings Settings, load DirectoryLoader) (Resolved, error) {
	log := logging.GetFromContext(ctx)
	settings = settings.WithDefaults()

	dir, err := load(ctx)
	if err != nil {
		return Resolved{}, &directoryError{err: err}
	}

	stationID := strings.TrimSpace(settings.StationID)

	if stationID == "" {
		if settings.Location == nil {
			return Resolved{}, ErrNoStation
		}

		var ok bool
		stationID, ok = stations.Closest(settings.Location, dir)
		if !ok {
			return Resolved{}, ErrNoStation
		}

		log.Info().Str("station", stationID).Msgf("resolved closest station to %f,%f", settings.Location.Latitude, settings.Location.Longitude)
	}

	station, ok := dir[stationID]
	if !ok {
		return Resolved{}, fmt.Errorf("%w: %s", ErrUnknownStation, stationID)
	}

	settings.StationID = stationID

	return Resolved{Settings: settings, Station: station}, nil
}
