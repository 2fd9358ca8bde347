package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Key string

const (
	Temperature          Key = "temperature"
	Humidity             Key = "humidity"
	Pressure             Key = "pressure"
	AirQualityIndex      Key = "air_quality_index"
	CarbonMonoxide       Key = "carbon_monoxide"
	NitrogenMonoxide     Key = "nitrogen_monoxide"
	NitrogenDioxide      Key = "nitrogen_dioxide"
	Ozone                Key = "ozone"
	ParticulateMatter1   Key = "particulate_matter_0_1"
	ParticulateMatter10  Key = "particulate_matter_10"
	ParticulateMatter2_5 Key = "particulate_matter_2_5"
	SulphurDioxide       Key = "sulphur_dioxide"
	Location             Key = "location"
	Longitude            Key = "longitude"
	Latitude             Key = "latitude"
	UpdateTimestamp      Key = "update_timestamp"
)

type ValueType int

const (
	Float ValueType = iota
	Int
	String
)

func (vt ValueType) String() string {
	switch vt {
	case Float:
		return "float"
	case Int:
		return "int"
	case String:
		return "string"
	}
	return fmt.Sprintf("ValueType(%d)", int(vt))
}

// FieldSpec describes one queryable measurement. Empty strings mean the attribute is absent.
type FieldSpec struct {
	Key          Key
	DisplayName  string
	Unit         string
	ShortLabel   string
	ValueType    ValueType
	RemoteField  string
	IndexField   string
	AverageField string
	Icon         string
}

var ErrNotNumeric = errors.New("value is not numeric")
var ErrUnknownKey = errors.New("unknown measurement key")

// Cast converts a raw snapshot value to the declared value type of the field.
func (f FieldSpec) Cast(raw any) (any, error) {
	switch f.ValueType {
	case Float:
		return ToFloat(raw)
	case Int:
		v, err := ToFloat(raw)
		if err != nil {
			return nil, err
		}
		if v < math.MinInt || v >= math.MaxInt {
			return nil, fmt.Errorf("%w: %v is out of range for an int", ErrNotNumeric, v)
		}
		return int(v), nil
	default:
		return ToString(raw)
	}
}

// ToFloat accepts numbers and numeric strings. NaN and infinite values are rejected.
func ToFloat(raw any) (float64, error) {
	var f float64

	switch v := raw.(type) {
	case json.Number:
		n, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, v.String())
		}
		f = n
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, v)
		}
		f = n
	default:
		return 0, fmt.Errorf("%w: %v (%T)", ErrNotNumeric, raw, raw)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrNotNumeric, raw)
	}

	return f, nil
}

func ToString(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", errors.New("value is null")
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return fmt.Sprint(raw), nil
}

type Catalog struct {
	specs []FieldSpec
	byKey map[Key]int
}

func New(specs ...FieldSpec) Catalog {
	c := Catalog{
		specs: append([]FieldSpec(nil), specs...),
		byKey: make(map[Key]int, len(specs)),
	}
	for i, s := range c.specs {
		c.byKey[s.Key] = i
	}
	return c
}

func (c Catalog) Lookup(key Key) (FieldSpec, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return FieldSpec{}, false
	}
	return c.specs[i], true
}

func (c Catalog) MustLookup(key Key) FieldSpec {
	s, ok := c.Lookup(key)
	if !ok {
		panic(fmt.Sprintf("catalog: no field spec for %q", key))
	}
	return s
}

// Keys returns the measurement keys in table order.
func (c Catalog) Keys() []Key {
	keys := make([]Key, 0, len(c.specs))
	for _, s := range c.specs {
		keys = append(keys, s.Key)
	}
	return keys
}

func (c Catalog) ParseKeys(names []string) ([]Key, error) {
	keys := make([]Key, 0, len(names))
	for _, n := range names {
		k := Key(strings.TrimSpace(n))
		if k == "" {
			continue
		}
		if _, ok := c.byKey[k]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, n)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

var defaultCatalog = New(
	FieldSpec{Key: Temperature, DisplayName: "Temperature", Unit: "°C", ShortLabel: "temperature", ValueType: Float, RemoteField: "temperature", Icon: "mdi:thermometer"},
	FieldSpec{Key: Humidity, DisplayName: "Humidity", Unit: "%", ShortLabel: "humidity", ValueType: Int, RemoteField: "humidity", Icon: "mdi:water-percent"},
	FieldSpec{Key: Pressure, DisplayName: "Pressure", Unit: "hPa", ShortLabel: "pressure", ValueType: Float, RemoteField: "pressure", Icon: "mdi:thermometer-lines"},
	FieldSpec{Key: AirQualityIndex, DisplayName: "Air Quality index", ShortLabel: "AQI", ValueType: Float, RemoteField: "airIndex", Icon: "mdi:air-filter"},
	FieldSpec{Key: CarbonMonoxide, DisplayName: "Carbon Monoxide (CO)", Unit: "mg/m3", ShortLabel: "CO", ValueType: Float, RemoteField: "co", IndexField: "coIndex", AverageField: "coAvg"},
	FieldSpec{Key: NitrogenMonoxide, DisplayName: "Nitrogen Monoxide (NO)", Unit: "µg/m3", ShortLabel: "NO", ValueType: Float, RemoteField: "no0", AverageField: "no0Avg"},
	FieldSpec{Key: NitrogenDioxide, DisplayName: "Nitrogen Dioxide (NO₂)", Unit: "µg/m3", ShortLabel: "NO₂", ValueType: Float, RemoteField: "no2", IndexField: "no2Index", AverageField: "no2Avg"},
	FieldSpec{Key: Ozone, DisplayName: "Ozone (O₃)", Unit: "µg/m3", ShortLabel: "O₃", ValueType: Float, RemoteField: "o3", IndexField: "o3Index", AverageField: "o3Avg"},
	FieldSpec{Key: ParticulateMatter1, DisplayName: "Particles (<1)", Unit: "µg/m3", ShortLabel: "PM1", ValueType: Float, RemoteField: "pm1", AverageField: "pm1Avg"},
	FieldSpec{Key: ParticulateMatter10, DisplayName: "Particles (>10)", Unit: "µg/m3", ShortLabel: "PM10", ValueType: Float, RemoteField: "pm10", IndexField: "pm10Index", AverageField: "pm10Avg"},
	FieldSpec{Key: ParticulateMatter2_5, DisplayName: "Particles (2-5)", Unit: "µg/m3", ShortLabel: "PM2-5", ValueType: Float, RemoteField: "pm25", IndexField: "pm25Index", AverageField: "pm25Avg"},
	FieldSpec{Key: SulphurDioxide, DisplayName: "Sulphur Dioxide (SO₂)", Unit: "µg/m3", ShortLabel: "SO₂", ValueType: Float, RemoteField: "so2", IndexField: "so2Index", AverageField: "so2Avg"},
	FieldSpec{Key: Location, DisplayName: "Location", ValueType: String, RemoteField: "locationName"},
	FieldSpec{Key: Longitude, DisplayName: "Longitude", Unit: "°", ShortLabel: "Long °", ValueType: Float, RemoteField: "xCoordinate"},
	FieldSpec{Key: Latitude, DisplayName: "Latitude", Unit: "°", ShortLabel: "Latt °", ValueType: Float, RemoteField: "yCoordinate"},
	FieldSpec{Key: UpdateTimestamp, DisplayName: "Update Timestamp", ShortLabel: "Update", ValueType: String, RemoteField: "measurementDate", Icon: "mdi:clock"},
)

// Default returns the shared, read-only measurement table.
func Default() Catalog {
	return defaultCatalog
}
