package ingest

// metricUnits maps inverter metric names to their units. Metrics missing
// from the table get an empty unit.
var metricUnits = map[string]string{
	"CO2 saved":     "lbs",
	"E-Total":       "kWh",
	"Fac":           "Hz",
	"Inv.TmpVal":    "C",
	"Pac":           "W",
	"Pcb.TmpVal":    "C",
	"Vac":           "V",
	"VacL1":         "V",
	"VacL2":         "V",
	"Vpv":           "V",
	"Max Vpv":       "V",
	"Vpv-Setpoint":  "V",
	"Iac":           "A",
	"Ipv":           "A",
	"h-On":          "h",
	"h-Total":       "h",
	"Riso":          "kOhm",
	"Power On":      "",
	"Event-Cnt":     "",
	"I-dif":         "mA",
	"Mode":          "",
	"Backup State":  "",
	"Balancer":      "",
	"Error":         "",
	"Serial Number": "",
	"Grid Type":     "",
	"Temperature":   "C",
	"Vfan":          "V",
}

// deniedMetrics are kept in the audit file but never published.
var deniedMetrics = map[string]bool{
	"Backup State":    true,
	"Balancer":        true,
	"Error":           true,
	"Event-Cnt":       true,
	"Grid Type":       true,
	"Mode":            true,
	"Power On":        true,
	"Serial Number":   true,
	"Max Temperature": true,
	"Max Vpv":         true,
	"Vpv-_PE":         true,
	"Vfan":            true,
	"Temperature":     true,
}

func UnitFor(metric string) string { return metricUnits[metric] }

func Denied(metric string) bool { return deniedMetrics[metric] }
