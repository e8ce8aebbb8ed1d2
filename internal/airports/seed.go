package airports

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yegors/inbound-tracker/pkg/logger"
)

// Seed loads airports from a .csv or .json file into the directory and
// returns how many were stored
func (d *Directory) Seed(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open airport seed: %w", err)
	}
	defer file.Close()

	var airports []Airport
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		airports, err = ReadJSON(file)
	default:
		airports, err = ReadCSV(file)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := d.Upsert(airports); err != nil {
		return 0, err
	}

	d.logger.Info("Seeded airport directory",
		logger.String("path", path),
		logger.Int("airports", len(airports)))
	return len(airports), nil
}

// ReadCSV parses an OurAirports airports.csv. Columns are located by header
// name; rows without an IATA code or with unparsable coordinates are skipped.
func ReadCSV(r io.Reader) ([]Airport, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}

	for _, required := range []string{"iata_code", "latitude_deg", "longitude_deg"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(record []string, names ...string) string {
		for _, name := range names {
			if i, ok := col[name]; ok && i < len(record) {
				if v := strings.TrimSpace(record[i]); v != "" {
					return v
				}
			}
		}
		return ""
	}

	var airports []Airport
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}

		iata := field(record, "iata_code")
		if iata == "" {
			continue
		}

		lat, err := strconv.ParseFloat(field(record, "latitude_deg"), 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(field(record, "longitude_deg"), 64)
		if err != nil {
			continue
		}

		a := Airport{
			IATA:      strings.ToUpper(iata),
			ICAO:      field(record, "icao_code", "gps_code", "ident"),
			Name:      field(record, "name"),
			City:      field(record, "municipality"),
			Latitude:  lat,
			Longitude: lon,
			Timezone:  field(record, "tz", "timezone"),
		}
		// Elevation might be empty
		if elev, err := strconv.ParseFloat(field(record, "elevation_ft"), 64); err == nil {
			a.ElevationFt = int(elev)
		}
		airports = append(airports, a)
	}
	return airports, nil
}

// ReadJSON parses a map of IATA code to airport attributes
func ReadJSON(r io.Reader) ([]Airport, error) {
	var raw map[string]Airport
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	airports := make([]Airport, 0, len(raw))
	for iata, a := range raw {
		a.IATA = strings.ToUpper(iata)
		airports = append(airports, a)
	}
	return airports, nil
}
