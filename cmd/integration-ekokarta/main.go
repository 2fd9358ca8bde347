package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/diwise/context-broker/pkg/ngsild/client"
	"github.com/diwise/integration-ekokarta/internal/application"
	"github.com/diwise/integration-ekokarta/internal/pkg/catalog"
	"github.com/diwise/integration-ekokarta/internal/pkg/ekokarta"
	"github.com/diwise/integration-ekokarta/internal/pkg/mqtt"
	"github.com/diwise/integration-ekokarta/internal/pkg/probe"
	"github.com/diwise/integration-ekokarta/internal/pkg/stations"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/spf13/afero"
)

var stationID, name, latitude, longitude, conditions, cacheDir string
var interval time.Duration

func main() {
	flag.StringVar(&stationID, "station", "", "id of the station to retrieve data from, resolved from -lat and -lon when empty")
	flag.StringVar(&name, "name", application.DefaultName, "name prefix of the published sensors")
	flag.StringVar(&latitude, "lat", "", "latitude used to find the closest station")
	flag.StringVar(&longitude, "lon", "", "longitude used to find the closest station")
	flag.StringVar(&conditions, "conditions", string(catalog.Temperature), "comma separated list of measurements to publish as sensors")
	flag.DurationVar(&interval, "interval", probe.DefaultInterval, "minimum time between updates")
	flag.StringVar(&cacheDir, "cache-dir", "", "directory where the station list is cached")
	flag.Parse()

	serviceName := "integration-ekokarta"
	serviceVersion := buildinfo.SourceVersion()
	ctx, log, cleanup := o11y.Init(context.Background(), serviceName, serviceVersion)
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	location, err := application.ParseLocation(latitude, longitude)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid location")
	}

	monitored, err := application.ParseConditions(conditions)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid monitored conditions")
	}

	service := env.GetVariableOrDefault(log, "EKOKARTA_URL", ekokarta.DefaultBaseURL)
	ctxBrokerURL := env.GetVariableOrDie(log, "CONTEXT_BROKER_URL", "url to context broker")

	ekokartaClient := ekokarta.NewClient(service)

	resolved, err := application.Setup(ctx, application.Settings{
		StationID:           stationID,
		Name:                name,
		Location:            location,
		MonitoredConditions: monitored,
		Interval:            interval,
	}, func(ctx context.Context) (stations.Directory, error) {
		return stations.Cached(ctx, afero.NewOsFs(), cacheDir, func(ctx context.Context) (stations.Directory, error) {
			return stations.FetchStations(ctx, ekokartaClient)
		})
	})
	if err != nil {
		log.Fatal().Err(err).Msg("setup failed")
	}

	ctxBroker := client.NewContextBrokerClient(ctxBrokerURL, client.Debug("true"))

	var publisher application.Publisher

	if broker := env.GetVariableOrDefault(log, "MQTT_BROKER", ""); broker != "" {
		port, err := strconv.Atoi(env.GetVariableOrDefault(log, "MQTT_PORT", strconv.Itoa(mqtt.DefaultPort)))
		if err != nil {
			log.Fatal().Err(err).Msg("invalid mqtt port")
		}

		mqttClient := mqtt.NewClient(ctx, mqtt.Config{
			Broker:   broker,
			Port:     port,
			ClientID: env.GetVariableOrDefault(log, "MQTT_CLIENT_ID", mqtt.DefaultClientID),
		})

		if err := mqttClient.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqttClient.Disconnect()

		publisher = mqttClient
	} else {
		log.Info().Msg("MQTT_BROKER is not set, sensors will not be published")
	}

	p := probe.New(ekokartaClient, resolved.Settings.StationID, probe.WithInterval(resolved.Settings.Interval))

	app, err := application.New(ctx, p, resolved, ctxBroker, publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create application")
	}

	if err = app.Run(ctx); err != nil {
		log.Error().Err(err).Msg("application stopped")
	}
}
