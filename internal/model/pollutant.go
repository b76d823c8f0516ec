package model

type Pollutant string

const (
	PollutantPM25  Pollutant = "pm2_5"
	PollutantPM10  Pollutant = "pm10"
	PollutantNO2   Pollutant = "nitrogen_dioxide"
	PollutantO3    Pollutant = "ozone"
	PollutantSO2   Pollutant = "sulphur_dioxide"
	PollutantCO    Pollutant = "carbon_monoxide"
	PollutantDust  Pollutant = "dust"
	PollutantAQIEU Pollutant = "european_aqi"
)

// DefaultThreshold is the WHO 24-hour PM2.5 guideline in µg/m³.
const DefaultThreshold = 15.0

// PollutantInfo holds display name, unit, CSV column and guideline for a pollutant.
type PollutantInfo struct {
	Name      string
	Unit      string
	Column    string
	Guideline float64
}

// PollutantCatalog maps every known Pollutant to its metadata.
// Guidelines are WHO 2021 24-hour (8-hour for ozone) values; zero means none.
var PollutantCatalog = map[Pollutant]PollutantInfo{
	PollutantPM25:  {Name: "PM2.5", Unit: "µg/m³", Column: "pm25", Guideline: DefaultThreshold},
	PollutantPM10:  {Name: "PM10", Unit: "µg/m³", Column: "pm10", Guideline: 45},
	PollutantNO2:   {Name: "Nitrogen Dioxide", Unit: "µg/m³", Column: "no2", Guideline: 25},
	PollutantO3:    {Name: "Ozone", Unit: "µg/m³", Column: "o3", Guideline: 100},
	PollutantSO2:   {Name: "Sulphur Dioxide", Unit: "µg/m³", Column: "so2", Guideline: 40},
	PollutantCO:    {Name: "Carbon Monoxide", Unit: "µg/m³", Column: "co", Guideline: 4000},
	PollutantDust:  {Name: "Dust", Unit: "µg/m³", Column: "dust"},
	PollutantAQIEU: {Name: "European AQI", Unit: "EAQI", Column: "european_aqi"},
}

// ColumnToPollutant is the reverse of the Column field in PollutantCatalog.
var ColumnToPollutant map[string]Pollutant

func init() {
	ColumnToPollutant = make(map[string]Pollutant, len(PollutantCatalog))
	for p, info := range PollutantCatalog {
		ColumnToPollutant[info.Column] = p
	}
}

// Column returns the CSV column name for p, falling back to the raw identifier.
func (p Pollutant) Column() string {
	if info, ok := PollutantCatalog[p]; ok {
		return info.Column
	}
	return string(p)
}

// Known reports whether p is in the catalog.
func (p Pollutant) Known() bool {
	_, ok := PollutantCatalog[p]
	return ok
}
