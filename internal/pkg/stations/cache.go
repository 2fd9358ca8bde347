package stations

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

const CacheFileName string = ".ekokarta-stations.json.gz"

type FetchFunc func(ctx context.Context) (Directory, error)

// Cached returns the directory stored in dir, or fetches and stores it when no cache file exists.
// An existing cache file is trusted as is, it never expires. An empty dir disables the cache.
func Cached(ctx context.Context, fs afero.Fs, dir string, fetch FetchFunc) (Directory, error) {
	if dir == "" {
		return fetch(ctx)
	}

	log := logging.GetFromContext(ctx)
	cacheFile := filepath.Join(dir, CacheFileName)

	exists, err := afero.Exists(fs, cacheFile)
	if err != nil {
		log.Warn().Err(err).Str("file", cacheFile).Msg("unable to stat station cache")
	}

	if exists {
		stations, err := readCache(fs, cacheFile)
		if err == nil {
			log.Debug().Str("file", cacheFile).Msgf("loaded %d stations from cache", len(stations))
			return stations, nil
		}
		log.Warn().Err(err).Str("file", cacheFile).Msg("ignoring unreadable station cache")
	}

	stations, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	if err = writeCache(fs, dir, cacheFile, stations); err != nil {
		log.Warn().Err(err).Str("file", cacheFile).Msg("failed to write station cache")
	}

	return stations, nil
}

func readCache(fs afero.Fs, cacheFile string) (Directory, error) {
	f, err := fs.Open(cacheFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()

	stations := Directory{}
	if err = json.NewDecoder(zr).Decode(&stations); err != nil {
		return nil, fmt.Errorf("failed to decode station cache: %w", err)
	}

	for id, s := range stations {
		s.ID = id
		stations[id] = s
	}

	return stations, nil
}

func writeCache(fs afero.Fs, dir, cacheFile string, stations Directory) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := fs.Create(cacheFile)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(f)

	// map keys are marshalled in sorted order
	if err = json.NewEncoder(zw).Encode(stations); err != nil {
		zw.Close()
		f.Close()
		return err
	}

	if err = zw.Close(); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
