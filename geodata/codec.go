package geodata

import (
	"context"
	"encoding/gob"
	"os"

	"github.com/golang/snappy"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
)

// SaveCache writes the snappy-compressed gob encoding of data to path.
func SaveCache(data *GeoData, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "could not create cache %s", path)
	}
	defer f.Close()

	w := snappy.NewBufferedWriter(f)
	if err = gob.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrapf(err, "could not encode cache %s", path)
	}
	if err = w.Close(); err != nil {
		return errors.Wrapf(err, "could not flush cache %s", path)
	}
	return f.Close()
}

// LoadCache reads a GeoData previously written by SaveCache.
// A file that cannot be decoded is an error, never a silent rebuild.
func LoadCache(path string) (*GeoData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open cache %s", path)
	}
	defer f.Close()

	var data GeoData
	if err = gob.NewDecoder(snappy.NewReader(f)).Decode(&data); err != nil {
		return nil, errors.Wrapf(err, "corrupt cache %s", path)
	}
	return &data, nil
}

// Open returns the GeoData for the given source archive. The first call
// parses the archive and writes the cache; subsequent calls load the cache
// instead. A present but corrupt cache is fatal so the caller decides whether
// to delete and rebuild.
func Open(ctx context.Context, archive, cache string) (*GeoData, error) {
	log := logger.LogWith(ctx)

	_, err := os.Stat(cache)
	switch {
	case err == nil:
		log.Debugf("Loading geodata from cache %s", cache)
		return LoadCache(cache)
	case !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "could not stat cache %s", cache)
	}

	data, err := Load(ctx, archive)
	if err != nil {
		return nil, err
	}

	if err = SaveCache(data, cache); err != nil {
		return nil, err
	}
	log.Infof("Geodata cache written to %s", cache)

	return data, nil
}
