package application

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/diwise/integration-ekokarta/internal/pkg/catalog"
	"github.com/diwise/integration-ekokarta/internal/pkg/probe"
	"github.com/matryer/is"
)

func TestSensorStateForPollutant(t *testing.T) {
	is, source, publisher := sensorTestSetup(t)

	sensor, err := NewSensorAdapter(source, catalog.ParticulateMatter10, DefaultName, publisher)
	is.NoErr(err)

	is.NoErr(sensor.Update(context.Background()))
	is.Equal(len(publisher.published), 1)

	msg := publisher.published[0]
	is.Equal(msg.topic, "ekokarta/155/particulate_matter_10")

	state := msg.payload.(SensorState)
	is.Equal(state.Name, "eko_karta_zagreb PM10")
	is.Equal(state.State, 22.4)
	is.Equal(state.Unit, "µg/m3")
	is.Equal(state.Icon, "")
	is.Equal(state.Attributes["attribution"], "Data provided by Eko Karta Zagreb")
	is.Equal(state.Attributes["station"], "Zagreb-1")
	is.Equal(state.Attributes["updated"], "2023-01-13T15:00:00Z")
	is.Equal(state.Attributes["Index"], json.Number("2"))
	is.Equal(state.Attributes["Average"], json.Number("21.7"))
}

func TestSensorStateCastsToDeclaredType(t *testing.T) {
	is, source, publisher := sensorTestSetup(t)

	sensor, err := NewSensorAdapter(source, catalog.Humidity, "home", publisher)
	is.NoErr(err)

	state := sensor.State()
	is.Equal(state.Name, "home humidity")
	is.Equal(state.State, 55)
	is.Equal(state.Icon, "mdi:water-percent")

	_, ok := state.Attributes["Index"]
	is.True(!ok)
}

func TestSensorStateWithoutValue(t *testing.T) {
	is, source, publisher := sensorTestSetup(t)

	sensor, err := NewSensorAdapter(source, catalog.NitrogenMonoxide, DefaultName, publisher)
	is.NoErr(err)

	state := sensor.State()
	is.Equal(state.State, nil)

	b, err := json.Marshal(state)
	is.NoErr(err)

	var decoded map[string]any
	is.NoErr(json.Unmarshal(b, &decoded))

	_, ok := decoded["state"]
	is.True(!ok)
}

func TestSensorOnlyPublishesChanges(t *testing.T) {
	is, source, publisher := sensorTestSetup(t)

	sensor, _ := NewSensorAdapter(source, catalog.Temperature, DefaultName, publisher)

	is.NoErr(sensor.Update(context.Background()))
	is.NoErr(sensor.Update(context.Background()))
	is.Equal(len(publisher.published), 1)

	source.set("measurementDate", json.Number("1673625600000"))
	source.set("temperature", json.Number("19.5"))

	is.NoErr(sensor.Update(context.Background()))
	is.Equal(len(publisher.published), 2)
	is.Equal(publisher.published[1].payload.(SensorState).State, 19.5)
}

func TestSensorRetriesFailedPublish(t *testing.T) {
	is, source, publisher := sensorTestSetup(t)
	publisher.err = errors.New("not connected")

	sensor, _ := NewSensorAdapter(source, catalog.Temperature, DefaultName, publisher)

	is.True(sensor.Update(context.Background()) != nil)
	is.Equal(len(publisher.published), 0)

	publisher.err = nil

	is.NoErr(sensor.Update(context.Background()))
	is.Equal(len(publisher.published), 1)
}

func TestSensorWithUnknownKey(t *testing.T) {
	is := is.New(t)

	_, err := NewSensorAdapter(newFakeSource("155", nil), catalog.Key("benzene"), DefaultName, &fakePublisher{})
	is.True(errors.Is(err, catalog.ErrUnknownKey))
}

func sensorTestSetup(t *testing.T) (*is.I, *fakeSource, *fakePublisher) {
	is := is.New(t)

	source := newFakeSource("155", map[string]any{
		"measurementDate": json.Number("1673622000000"),
		"temperature":     json.Number("21.0"),
		"humidity":        json.Number("55"),
		"pm10":            json.Number("22.4"),
		"pm10Index":       json.Number("2"),
		"pm10Avg":         json.Number("21.7"),
		"locationName":    "Zagreb-1",
	})

	return is, source, &fakePublisher{}
}

type fakeSource struct {
	mu        sync.Mutex
	stationID string
	fields    map[string]any
	updates   int
}

func newFakeSource(stationID string, fields map[string]any) *fakeSource {
	if fields == nil {
		fields = map[string]any{}
	}
	return &fakeSource{stationID: stationID, fields: fields}
}

func (f *fakeSource) set(field string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields[field] = v
}

func (f *fakeSource) Update(ctx context.Context) probe.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return probe.Refreshed
}

func (f *fakeSource) LastUpdate() (time.Time, bool) {
	ms, ok := f.Float("measurementDate")
	if !ok {
		return time.Time{}, false
	}
	sec, frac := math.Modf(ms / 1000)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))), true
}

func (f *fakeSource) Get(field string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.fields[field]
	return v, ok
}

func (f *fakeSource) Float(field string) (float64, bool) {
	raw, ok := f.Get(field)
	if !ok {
		return 0, false
	}
	v, err := catalog.ToFloat(raw)
	return v, err == nil
}

func (f *fakeSource) String(field string) (string, bool) {
	raw, ok := f.Get(field)
	if !ok {
		return "", false
	}
	v, err := catalog.ToString(raw)
	return v, err == nil
}

func (f *fakeSource) StationID() string {
	return f.stationID
}

type publishedMessage struct {
	topic   string
	payload any
}

type fakePublisher struct {
	err       error
	published []publishedMessage
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedMessage{topic: topic, payload: payload})
	return nil
}
