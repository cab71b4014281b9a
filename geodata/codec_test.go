package geodata_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mdouchement/ipfilter/geodata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	data := &geodata.GeoData{
		IPBlocks: []geodata.IPBlock{
			{Network: "10.0.0.0/8", GeonameID: 6252001, IsAnonymousProxy: true},
			{Network: "192.168.0.0/16", GeonameID: 2635167, IsSatelliteProvider: true},
			{Network: "172.16.0.0/12", RegisteredCountryGeonameID: 3017382},
		},
		CountryLocations: map[uint32]geodata.CountryLocation{
			6252001: {GeonameID: 6252001, LocaleCode: "en", ContinentCode: "NA", ContinentName: "North America", CountryISOCode: "US", CountryName: "United States"},
			2635167: {GeonameID: 2635167, LocaleCode: "en", ContinentCode: "EU", ContinentName: "Europe", CountryISOCode: "GB", CountryName: "United Kingdom"},
		},
	}

	path := filepath.Join(t.TempDir(), "geodata.bin.sz")
	require.NoError(t, geodata.SaveCache(data, path))

	loaded, err := geodata.LoadCache(path)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
}

func TestLoadCache_Missing(t *testing.T) {
	_, err := geodata.LoadCache(filepath.Join(t.TempDir(), "nope.bin.sz"))
	assert.Error(t, err)
}

func TestLoadCache_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geodata.bin.sz")
	require.NoError(t, os.WriteFile(path, []byte("not a cache"), 0o600))

	_, err := geodata.LoadCache(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt cache")
}

func TestOpen(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		geodata.BlocksTable:    blocksCSV,
		geodata.LocationsTable: locationsCSV,
	})
	cache := filepath.Join(t.TempDir(), "geodata.bin.sz")
	ctx := testContext()

	// First run parses the archive and writes the cache through.
	data, err := geodata.Open(ctx, archive, cache)
	require.NoError(t, err)
	require.Len(t, data.IPBlocks, 3)

	_, err = os.Stat(cache)
	require.NoError(t, err)

	// Second run loads the cache: the archive is no longer needed.
	cached, err := geodata.Open(ctx, filepath.Join(t.TempDir(), "gone.zip"), cache)
	require.NoError(t, err)
	assert.Equal(t, data, cached)
}

func TestOpen_CorruptCacheIsFatal(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		geodata.BlocksTable:    blocksCSV,
		geodata.LocationsTable: locationsCSV,
	})
	cache := filepath.Join(t.TempDir(), "geodata.bin.sz")
	require.NoError(t, os.WriteFile(cache, []byte("garbage"), 0o600))

	// No silent fallback to the archive: the caller decides whether to delete
	// and rebuild.
	_, err := geodata.Open(testContext(), archive, cache)
	assert.Error(t, err)
}
