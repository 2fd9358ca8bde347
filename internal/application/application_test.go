package application

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/diwise/context-broker/pkg/ngsild"
	ngsierrors "github.com/diwise/context-broker/pkg/ngsild/errors"
	"github.com/diwise/context-broker/pkg/ngsild/types"
	test "github.com/diwise/context-broker/pkg/test"
	"github.com/diwise/integration-ekokarta/internal/pkg/ekokarta"
	"github.com/diwise/integration-ekokarta/internal/pkg/probe"
	"github.com/diwise/integration-ekokarta/internal/pkg/stations"
	testhttp "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/response"
	"github.com/matryer/is"
)

func TestAirQualityObservedIsCreatedWhenNotFound(t *testing.T) {
	is, ctxBroker, service := testSetup(t)

	p := probe.New(ekokarta.NewClient(service.URL()), "155")
	adapter := NewAirQualityAdapter(p, ctxBroker, zagreb1, DefaultName)

	err := adapter.Update(context.Background())
	is.NoErr(err)
	is.Equal(len(ctxBroker.MergeEntityCalls()), 1)
	is.Equal(len(ctxBroker.CreateEntityCalls()), 1)

	is.Equal(adapter.EntityID(), "urn:ngsi-ld:AirQualityObserved:ekokarta:155")
}

func TestAirQualityObservedFragment(t *testing.T) {
	is, ctxBroker, service := testSetup(t)

	p := probe.New(ekokarta.NewClient(service.URL()), "155")
	adapter := NewAirQualityAdapter(p, ctxBroker, zagreb1, DefaultName)

	err := adapter.Update(context.Background())
	is.NoErr(err)

	fragment := fragmentJSON(is, ctxBroker, 0)

	dateObserved := `"dateObserved":{"type":"Property","value":{"@type":"DateTime","@value":"2023-01-13T15:00:00Z"}}`
	is.True(strings.Contains(fragment, dateObserved))

	for _, property := range []string{"airQualityIndex", "CO", "NO", "NO2", "O3", "PM1", "PM10", "PM25", "SO2"} {
		is.True(strings.Contains(fragment, `"`+property+`":`))
	}
}

func TestWeatherObservedFragment(t *testing.T) {
	is, ctxBroker, service := testSetup(t)

	p := probe.New(ekokarta.NewClient(service.URL()), "155")
	adapter := NewWeatherAdapter(p, ctxBroker, zagreb1, DefaultName)

	err := adapter.Update(context.Background())
	is.NoErr(err)

	is.Equal(adapter.EntityID(), "urn:ngsi-ld:WeatherObserved:ekokarta:155")

	fragment := fragmentJSON(is, ctxBroker, 0)

	is.True(strings.Contains(fragment, `"temperature":`))
	is.True(strings.Contains(fragment, `"atmosphericPressure":`))
	is.True(strings.Contains(fragment, `"relativeHumidity":`))
	is.True(strings.Contains(fragment, `0.55`))
	is.True(!strings.Contains(fragment, `"PM10":`))
}

func TestObservedAdapterOmitsMissingValues(t *testing.T) {
	is := is.New(t)
	ctxBroker := brokerThatMerges()

	source := newFakeSource("155", map[string]any{
		"measurementDate": json.Number("1673622000000"),
		"pm10":            json.Number("22.4"),
		"so2":             "n/a",
	})

	adapter := NewAirQualityAdapter(source, ctxBroker, zagreb1, DefaultName)
	is.NoErr(adapter.Update(context.Background()))

	fragment := fragmentJSON(is, ctxBroker, 0)
	is.True(strings.Contains(fragment, `"PM10":`))
	is.True(!strings.Contains(fragment, `"SO2":`))
	is.True(!strings.Contains(fragment, `"CO":`))
}

func TestObservedAdapterOnlyPublishesChanges(t *testing.T) {
	is := is.New(t)
	ctxBroker := brokerThatMerges()

	source := newFakeSource("155", map[string]any{
		"measurementDate": json.Number("1673622000000"),
		"temperature":     json.Number("21.0"),
	})

	adapter := NewWeatherAdapter(source, ctxBroker, zagreb1, DefaultName)

	is.NoErr(adapter.Update(context.Background()))
	is.NoErr(adapter.Update(context.Background()))
	is.Equal(len(ctxBroker.MergeEntityCalls()), 1)
	is.Equal(source.updates, 2)

	source.set("measurementDate", json.Number("1673625600000"))

	is.NoErr(adapter.Update(context.Background()))
	is.Equal(len(ctxBroker.MergeEntityCalls()), 2)
}

func TestObservedAdapterWithoutDataPublishesNothing(t *testing.T) {
	is := is.New(t)
	ctxBroker := brokerThatMerges()

	adapter := NewWeatherAdapter(newFakeSource("155", map[string]any{}), ctxBroker, zagreb1, DefaultName)

	is.NoErr(adapter.Update(context.Background()))
	is.Equal(len(ctxBroker.MergeEntityCalls()), 0)
}

func TestObservedAdapterRetriesAfterFailedMerge(t *testing.T) {
	is := is.New(t)

	failures := 1
	ctxBroker := &test.ContextBrokerClientMock{
		MergeEntityFunc: func(ctx context.Context, entityID string, fragment types.EntityFragment, headers map[string][]string) (*ngsild.MergeEntityResult, error) {
			if failures > 0 {
				failures--
				return nil, errors.New("context broker unavailable")
			}
			return nil, nil
		},
	}

	source := newFakeSource("155", map[string]any{
		"measurementDate": json.Number("1673622000000"),
		"temperature":     json.Number("21.0"),
	})

	adapter := NewWeatherAdapter(source, ctxBroker, zagreb1, DefaultName)

	err := adapter.Update(context.Background())
	is.True(err != nil)

	is.NoErr(adapter.Update(context.Background()))
	is.Equal(len(ctxBroker.MergeEntityCalls()), 2)
	is.Equal(len(ctxBroker.CreateEntityCalls()), 0)
}

func TestNewCreatesAdaptersPerConfiguredOutput(t *testing.T) {
	is := is.New(t)

	source := newFakeSource("155", map[string]any{})
	resolved := Resolved{
		Settings: Settings{StationID: "155", MonitoredConditions: nil},
		Station:  zagreb1,
	}

	a, err := New(context.Background(), source, resolved, brokerThatMerges(), &fakePublisher{})
	is.NoErr(err)
	is.Equal(len(a.Adapters()), 3) // temperature sensor, air quality and weather

	a, err = New(context.Background(), source, resolved, brokerThatMerges(), nil)
	is.NoErr(err)
	is.Equal(len(a.Adapters()), 2)

	_, err = New(context.Background(), source, resolved, nil, nil)
	is.True(err != nil)
}

func TestRunStopsWhenContextIsCancelled(t *testing.T) {
	is := is.New(t)

	source := newFakeSource("155", map[string]any{
		"measurementDate": json.Number("1673622000000"),
		"temperature":     json.Number("21.0"),
	})
	ctxBroker := brokerThatMerges()

	a, err := New(context.Background(), source, Resolved{Settings: Settings{StationID: "155"}, Station: zagreb1}, ctxBroker, nil)
	is.NoErr(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)

	go func() {
		done <- a.Run(ctx)
	}()

	for len(ctxBroker.MergeEntityCalls()) < 2 {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	is.NoErr(<-done)
}

func fragmentJSON(is *is.I, ctxBroker *test.ContextBrokerClientMock, call int) string {
	entityBytes, err := json.Marshal(ctxBroker.MergeEntityCalls()[call].Fragment)
	is.NoErr(err)
	return string(entityBytes)
}

func brokerThatMerges() *test.ContextBrokerClientMock {
	return &test.ContextBrokerClientMock{
		MergeEntityFunc: func(ctx context.Context, entityID string, fragment types.EntityFragment, headers map[string][]string) (*ngsild.MergeEntityResult, error) {
			return nil, nil
		},
	}
}

func testSetup(t *testing.T) (*is.I, *test.ContextBrokerClientMock, testhttp.MockService) {
	is := is.New(t)
	ctxBroker := &test.ContextBrokerClientMock{
		MergeEntityFunc: func(ctx context.Context, entityID string, fragment types.EntityFragment, headers map[string][]string) (*ngsild.MergeEntityResult, error) {
			return nil, ngsierrors.ErrNotFound
		},
		CreateEntityFunc: func(ctx context.Context, entity types.Entity, headers map[string][]string) (*ngsild.CreateEntityResult, error) {
			return nil, nil
		},
	}

	service := testhttp.NewMockServiceThat(
		testhttp.Expects(is),
		testhttp.Returns(response.Code(http.StatusOK), response.Body([]byte(testData))),
	)

	return is, ctxBroker, service
}

var zagreb1 = stations.Station{ID: "155", Latitude: 45.8, Longitude: 15.97, Name: "Zagreb-1"}

// both endpoints are served the same document, it carries the fields of each
const testData string = `{
	"temperature": 21.0,
	"humidity": 55,
	"pressure": 1013.2,
	"co": 0.4,
	"no0": 12.1,
	"no2": 25.3,
	"o3": 40.0,
	"pm1": 8.2,
	"pm10": 22.4,
	"pm25": 14.9,
	"so2": 3.1,
	"locationName": "Zagreb-1",
	"xCoordinate": 15.97,
	"yCoordinate": 45.80,
	"measurementDate": 1673622000000,
	"airIndex": 2,
	"coIndex": 1, "coAvg": 0.38,
	"no2Index": 1, "no2Avg": 24.0,
	"o3Index": 2, "o3Avg": 41.5,
	"pm10Index": 2, "pm10Avg": 21.7,
	"pm25Index": 2, "pm25Avg": 15.2,
	"so2Index": 1, "so2Avg": 3.0
}`
