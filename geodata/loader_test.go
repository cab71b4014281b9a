package geodata_test

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mdouchement/ipfilter/geodata"
	"github.com/mdouchement/logger"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blocksCSV = `network,geoname_id,registered_country_geoname_id,represented_country_geoname_id,is_anonymous_proxy,is_satellite_provider
10.0.0.0/8,6252001,6252001,,0,0
192.168.0.0/16,2635167,,,1,0
172.16.0.0/12,,3017382,,0,1
`

const locationsCSV = `geoname_id,locale_code,continent_code,continent_name,country_iso_code,country_name,is_in_european_union
6252001,en,NA,North America,US,United States,0
2635167,en,EU,Europe,GB,United Kingdom,0
3017382,en,EU,Europe,FR,France,1
`

func testContext() context.Context {
	logr := logrus.New()
	logr.SetOutput(io.Discard)
	return logger.WithLogger(context.Background(), logger.WrapLogrus(logr))
}

// writeArchive builds a zip archive under the dated directory layout of the
// GeoLite2 distribution.
func writeArchive(t *testing.T, tables map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "GeoLite2-Country-CSV.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range tables {
		member, err := w.Create("GeoLite2-Country-CSV_20241015/" + name)
		require.NoError(t, err)
		_, err = member.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return path
}

func TestLoad(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		geodata.BlocksTable:    blocksCSV,
		geodata.LocationsTable: locationsCSV,
	})

	data, err := geodata.Load(testContext(), archive)
	require.NoError(t, err)

	require.Len(t, data.IPBlocks, 3)
	assert.Equal(t, geodata.IPBlock{
		Network:                    "10.0.0.0/8",
		GeonameID:                  6252001,
		RegisteredCountryGeonameID: 6252001,
	}, data.IPBlocks[0])
	assert.True(t, data.IPBlocks[1].IsAnonymousProxy)
	assert.True(t, data.IPBlocks[2].IsSatelliteProvider)
	assert.Zero(t, data.IPBlocks[2].GeonameID)

	require.Len(t, data.CountryLocations, 3)
	assert.Equal(t, geodata.CountryLocation{
		GeonameID:         3017382,
		LocaleCode:        "en",
		ContinentCode:     "EU",
		ContinentName:     "Europe",
		CountryISOCode:    "FR",
		CountryName:       "France",
		IsInEuropeanUnion: true,
	}, data.CountryLocations[3017382])
}

func TestLoad_MissingArchive(t *testing.T) {
	_, err := geodata.Load(testContext(), filepath.Join(t.TempDir(), "nope.zip"))
	assert.Error(t, err)
}

func TestLoad_MissingTable(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		geodata.BlocksTable: blocksCSV,
	})

	_, err := geodata.Load(testContext(), archive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), geodata.LocationsTable)
}

func TestLoad_InvalidBooleanLiteral(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		geodata.BlocksTable: `network,geoname_id,registered_country_geoname_id,represented_country_geoname_id,is_anonymous_proxy,is_satellite_provider
10.0.0.0/8,6252001,,,yes,0
`,
		geodata.LocationsTable: locationsCSV,
	})

	// A bad boolean literal means a structurally wrong source file: the whole
	// load fails, nothing partial comes back.
	data, err := geodata.Load(testContext(), archive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is_anonymous_proxy")
	assert.Nil(t, data)
}

func TestLoad_InvalidGeonameID(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		geodata.BlocksTable: `network,geoname_id,registered_country_geoname_id,represented_country_geoname_id,is_anonymous_proxy,is_satellite_provider
10.0.0.0/8,abc,,,0,0
`,
		geodata.LocationsTable: locationsCSV,
	})

	_, err := geodata.Load(testContext(), archive)
	assert.Error(t, err)
}

func TestLoad_Cancellation(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		geodata.BlocksTable:    blocksCSV,
		geodata.LocationsTable: locationsCSV,
	})

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, err := geodata.Load(ctx, archive)
	assert.ErrorIs(t, err, context.Canceled)
}
