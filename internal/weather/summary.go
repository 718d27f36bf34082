package weather

// Day is one day of a forecast. Missing values stay nil.
type Day struct {
	Date string   `json:"date"`
	Max  *float64 `json:"max"`
	Min  *float64 `json:"min"`
	Code *int     `json:"code"`
	Icon string   `json:"icon,omitempty"`
}

// DailySummary flattens the forecast's daily arrays into one entry per date. It returns nil
// when the forecast carries no daily block.
func DailySummary(f Forecast) []Day {
	if f.Daily == nil || f.Daily.Time == nil {
		return nil
	}
	d := f.Daily
	days := make([]Day, len(d.Time))
	for i, date := range d.Time {
		days[i].Date = date
		if i < len(d.TemperatureMax) {
			days[i].Max = d.TemperatureMax[i]
		}
		if i < len(d.TemperatureMin) {
			days[i].Min = d.TemperatureMin[i]
		}
		if i < len(d.WeatherCode) && d.WeatherCode[i] != nil {
			days[i].Code = d.WeatherCode[i]
			days[i].Icon = Icon(*d.WeatherCode[i])
		}
	}
	return days
}

var icons = map[int]string{
	0:  "clear.svg",
	1:  "mainly_clear.svg",
	2:  "partly_cloudy.svg",
	3:  "overcast.svg",
	45: "fog.svg",
	48: "depositing_rime_fog.svg",
	51: "drizzle_light.svg",
	53: "drizzle_moderate.svg",
	55: "drizzle_dense.svg",
	61: "rain_light.svg",
	63: "rain_moderate.svg",
	65: "rain_heavy.svg",
	71: "snow_light.svg",
	73: "snow_moderate.svg",
	75: "snow_heavy.svg",
	80: "rain_showers_light.svg",
	81: "rain_showers_moderate.svg",
	82: "rain_showers_violent.svg",
}

// Icon maps a WMO weather code to its icon file name, or "" for codes without an icon.
func Icon(code int) string {
	return icons[code]
}
