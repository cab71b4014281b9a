package geodata

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"io"
	"path"
	"strconv"

	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
)

// Table names looked up inside the source archive. The distribution nests
// them under a dated directory, so members are matched by base name.
const (
	BlocksTable    = "GeoLite2-Country-Blocks-IPv4.csv"
	LocationsTable = "GeoLite2-Country-Locations-en.csv"
)

// Load parses the source archive into a GeoData. It fails without partial
// data when the archive cannot be opened, a table is missing or any row is
// malformed.
func Load(ctx context.Context, archive string) (*GeoData, error) {
	log := logger.LogWith(ctx)

	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open archive %s", archive)
	}
	defer r.Close()

	data := &GeoData{
		CountryLocations: make(map[uint32]CountryLocation),
	}

	err = inTable(ctx, &r.Reader, BlocksTable, func(row *tableRow) (err error) {
		block := IPBlock{Network: row.field("network")}

		block.GeonameID, err = row.id("geoname_id")
		if err != nil {
			return err
		}
		block.RegisteredCountryGeonameID, err = row.id("registered_country_geoname_id")
		if err != nil {
			return err
		}
		block.RepresentedCountryGeonameID, err = row.id("represented_country_geoname_id")
		if err != nil {
			return err
		}
		block.IsAnonymousProxy, err = row.bool("is_anonymous_proxy")
		if err != nil {
			return err
		}
		block.IsSatelliteProvider, err = row.bool("is_satellite_provider")
		if err != nil {
			return err
		}

		data.IPBlocks = append(data.IPBlocks, block)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = inTable(ctx, &r.Reader, LocationsTable, func(row *tableRow) (err error) {
		location := CountryLocation{
			LocaleCode:     row.field("locale_code"),
			ContinentCode:  row.field("continent_code"),
			ContinentName:  row.field("continent_name"),
			CountryISOCode: row.field("country_iso_code"),
			CountryName:    row.field("country_name"),
		}

		location.GeonameID, err = row.id("geoname_id")
		if err != nil {
			return err
		}
		location.IsInEuropeanUnion, err = row.bool("is_in_european_union")
		if err != nil {
			return err
		}

		data.CountryLocations[location.GeonameID] = location
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Loaded %d ip blocks and %d country locations", len(data.IPBlocks), len(data.CountryLocations))
	return data, nil
}

// inTable streams the named CSV member of the archive row by row.
func inTable(ctx context.Context, r *zip.Reader, name string, h func(row *tableRow) error) error {
	f := member(r, name)
	if f == nil {
		return errors.Errorf("table %s not found in archive", name)
	}

	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "could not open table %s", name)
	}
	defer rc.Close()

	cr := csv.NewReader(rc)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return errors.Wrapf(err, "could not read header of table %s", name)
	}

	row := &tableRow{table: name, columns: make(map[string]int, len(header))}
	for i, column := range header {
		row.columns[column] = i
	}

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "table %s", name)
		}

		row.record, err = cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "could not read table %s", name)
		}

		if err = h(row); err != nil {
			return errors.Wrapf(err, "table %s", name)
		}
	}
}

func member(r *zip.Reader, name string) *zip.File {
	for _, f := range r.File {
		if path.Base(f.Name) == name {
			return f
		}
	}
	return nil
}

// A tableRow gives column-name access to the current CSV record.
type tableRow struct {
	table   string
	columns map[string]int
	record  []string
}

func (r *tableRow) field(column string) string {
	i, ok := r.columns[column]
	if !ok || i >= len(r.record) {
		return ""
	}
	return r.record[i]
}

// id parses an optional geoname id column. An empty column yields 0.
func (r *tableRow) id(column string) (uint32, error) {
	v := r.field(column)
	if v == "" {
		return 0, nil
	}

	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", column, v)
	}
	return uint32(id), nil
}

// bool parses a "0"/"1" column. Any other literal means the source file is
// structurally wrong and aborts the load.
func (r *tableRow) bool(column string) (bool, error) {
	switch v := r.field(column); v {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, errors.Errorf("invalid %s boolean literal %q", column, v)
	}
}
