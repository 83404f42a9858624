package domain

import "strings"

// FloodRecord is a documented historical flood event for a city. The table is
// curated reference data served read-only; it is not derived from live
// observations.
type FloodRecord struct {
	Year        int       `json:"year"`
	Event       string    `json:"event"`
	Deaths      *int      `json:"deaths,omitempty"`
	Severity    RiskLevel `json:"severity"`
	RainfallMM  *float64  `json:"rainfall_mm,omitempty"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
}

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

var historicalFloods = map[string][]FloodRecord{
	"mumbai": {
		{Year: 2005, Event: "Mumbai Floods", Deaths: intp(1094), Severity: LevelHigh, RainfallMM: floatp(944), Description: "July 26, 2005 – 944mm of rain in 24 hours, deadliest urban flood in Indian history.", Source: "IMD"},
		{Year: 2017, Event: "Mumbai Monsoon Floods", Deaths: intp(33), Severity: LevelMedium, RainfallMM: floatp(298), Description: "August 2017 flooding caused widespread transport disruption and building collapses.", Source: "NDMA"},
	},
	"new orleans": {
		{Year: 2005, Event: "Hurricane Katrina", Deaths: intp(1833), Severity: LevelHigh, RainfallMM: floatp(250), Description: "August 29, 2005 – Levee failures flooded 80% of the city, catastrophic $125B damage.", Source: "FEMA"},
		{Year: 2016, Event: "Louisiana Floods", Deaths: intp(13), Severity: LevelMedium, RainfallMM: floatp(686), Description: "August 2016 – Historic flooding affected 145,000 homes in southeast Louisiana.", Source: "FEMA"},
	},
	"houston": {
		{Year: 2017, Event: "Hurricane Harvey", Deaths: intp(107), Severity: LevelHigh, RainfallMM: floatp(1539), Description: "August 2017 – Harvey dropped record 1,539mm of rain, flooding 154,000 structures.", Source: "NOAA"},
	},
	"chennai": {
		{Year: 2015, Event: "Chennai Floods", Deaths: intp(500), Severity: LevelHigh, RainfallMM: floatp(1218), Description: "November-December 2015 – Worst floods in 100 years, 500 deaths, $3B damage.", Source: "IMD"},
	},
	"jakarta": {
		{Year: 2020, Event: "Jakarta New Year Floods", Deaths: intp(66), Severity: LevelHigh, RainfallMM: floatp(377), Description: "January 1, 2020 – Record rainfall flooded 169 locations across greater Jakarta.", Source: "BNPB"},
	},
	"london": {
		{Year: 2021, Event: "London Flash Floods", Deaths: intp(4), Severity: LevelMedium, RainfallMM: floatp(94), Description: "July 2021 – Underground stations flooded, streets impassable across west London.", Source: "EA"},
		{Year: 2007, Event: "UK Summer Floods", Deaths: intp(13), Severity: LevelHigh, RainfallMM: floatp(118), Description: "June-July 2007 – England's worst peacetime emergency, 55,000 homes flooded.", Source: "EA"},
	},
	"bangkok": {
		{Year: 2011, Event: "Thailand Megaflood", Deaths: intp(813), Severity: LevelHigh, RainfallMM: floatp(850), Description: "Jul-Dec 2011 – Worst flooding in 50 years, 40% of Thailand affected, $45B damage.", Source: "OCHA"},
	},
	"new york": {
		{Year: 2012, Event: "Hurricane Sandy", Deaths: intp(43), Severity: LevelHigh, RainfallMM: floatp(111), Description: "October 2012 – 14-foot storm surge flooded NYC subways and lower Manhattan.", Source: "FEMA"},
		{Year: 2021, Event: "Hurricane Ida Remnants", Deaths: intp(13), Severity: LevelHigh, RainfallMM: floatp(183), Description: "September 2021 – Record 3.15 inches/hour rainfall flooded subway and basements.", Source: "NWS"},
	},
	"venice": {
		{Year: 2019, Event: "Venice Acqua Alta", Deaths: intp(2), Severity: LevelHigh, RainfallMM: floatp(148), Description: "November 2019 – 187cm water level, second highest ever, 85% of city flooded.", Source: "CNR"},
	},
}

var defaultFloodRecords = []FloodRecord{
	{Year: 2022, Event: "Regional Flash Flood Events", Severity: LevelMedium, Description: "Flash flood events have increasingly impacted urban areas globally due to climate change. Check local disaster management reports for specific city data.", Source: "UNDRR"},
	{Year: 2021, Event: "Global Urban Flood Trend", Severity: LevelLow, Description: "2021 saw a 134% increase in reported urban flood events compared to the 2000-2009 decade average.", Source: "UNDRR"},
}

// FloodHistory returns known historical flood events for a city. Lookup is
// case-insensitive with substring fallback ("Greater Mumbai" matches
// "mumbai"); unknown cities get a generic global record set.
func FloodHistory(city string) []FloodRecord {
	name := strings.ToLower(strings.TrimSpace(city))
	if records, ok := historicalFloods[name]; ok {
		return records
	}
	if name != "" {
		for key, records := range historicalFloods {
			if strings.Contains(name, key) || strings.Contains(key, name) {
				return records
			}
		}
	}
	return defaultFloodRecords
}
