// Package geo implements the static IANA timezone -> {city, flag} mapping
// used to derive presence metadata on session identify, per spec.md's
// glossary entry for "Timezone mapping".
package geo

import "strings"

// Info is the derived presence metadata for a session.
type Info struct {
	City string
	Flag string
}

// table covers the timezones exercised by spec.md's end-to-end scenarios
// plus the other IANA zones a real deployment is likely to see. It is not
// exhaustive; unknown zones fall back via Lookup's continent heuristic.
var table = map[string]Info{
	"Europe/Berlin":    {"Berlin", "🇩🇪"},
	"Europe/London":    {"London", "🇬🇧"},
	"Europe/Paris":     {"Paris", "🇫🇷"},
	"Europe/Madrid":    {"Madrid", "🇪🇸"},
	"Europe/Rome":      {"Rome", "🇮🇹"},
	"Europe/Amsterdam": {"Amsterdam", "🇳🇱"},
	"Europe/Moscow":    {"Moscow", "🇷🇺"},
	"Europe/Warsaw":    {"Warsaw", "🇵🇱"},
	"Europe/Stockholm": {"Stockholm", "🇸🇪"},
	"Europe/Lisbon":    {"Lisbon", "🇵🇹"},

	"America/New_York":    {"New York", "🇺🇸"},
	"America/Chicago":     {"Chicago", "🇺🇸"},
	"America/Denver":      {"Denver", "🇺🇸"},
	"America/Los_Angeles": {"Los Angeles", "🇺🇸"},
	"America/Toronto":     {"Toronto", "🇨🇦"},
	"America/Vancouver":   {"Vancouver", "🇨🇦"},
	"America/Mexico_City": {"Mexico City", "🇲🇽"},
	"America/Sao_Paulo":   {"Sao Paulo", "🇧🇷"},
	"America/Bogota":      {"Bogota", "🇨🇴"},
	"America/Argentina/Buenos_Aires": {"Buenos Aires", "🇦🇷"},

	"Asia/Tokyo":     {"Tokyo", "🇯🇵"},
	"Asia/Shanghai":  {"Shanghai", "🇨🇳"},
	"Asia/Seoul":     {"Seoul", "🇰🇷"},
	"Asia/Singapore": {"Singapore", "🇸🇬"},
	"Asia/Kolkata":   {"Mumbai", "🇮🇳"},
	"Asia/Dubai":     {"Dubai", "🇦🇪"},
	"Asia/Bangkok":   {"Bangkok", "🇹🇭"},
	"Asia/Jakarta":   {"Jakarta", "🇮🇩"},
	"Asia/Manila":    {"Manila", "🇵🇭"},
	"Asia/Hong_Kong": {"Hong Kong", "🇭🇰"},

	"Africa/Cairo":       {"Cairo", "🇪🇬"},
	"Africa/Johannesburg": {"Johannesburg", "🇿🇦"},
	"Africa/Lagos":       {"Lagos", "🇳🇬"},
	"Africa/Nairobi":     {"Nairobi", "🇰🇪"},

	"Australia/Sydney":    {"Sydney", "🇦🇺"},
	"Australia/Melbourne": {"Melbourne", "🇦🇺"},
	"Pacific/Auckland":    {"Auckland", "🇳🇿"},

	"UTC": {"Greenwich", "🏳️"},
}

// continentFlags maps the leading path segment of an IANA zone to a
// generic regional flag, used by Lookup's fallback.
var continentFlags = map[string]string{
	"Europe":   "🇪🇺",
	"America":  "🌎",
	"Asia":     "🌏",
	"Africa":   "🌍",
	"Australia": "🇦🇺",
	"Pacific":  "🌏",
	"Atlantic": "🌊",
	"Indian":   "🌊",
	"Antarctica": "🧊",
}

// Lookup derives {city, flag} for an IANA timezone string. Unknown zones
// fall back to the city segment of the last path component (underscores
// replaced by spaces) and a continent-prefixed generic flag, per
// spec.md's glossary.
func Lookup(timezone string) Info {
	if timezone == "" {
		timezone = "UTC"
	}
	if info, ok := table[timezone]; ok {
		return info
	}

	segments := strings.Split(timezone, "/")
	city := segments[len(segments)-1]
	city = strings.ReplaceAll(city, "_", " ")

	flag := "🏳️"
	if len(segments) > 0 {
		if f, ok := continentFlags[segments[0]]; ok {
			flag = f
		}
	}

	if city == "" {
		city = "Unknown"
	}

	return Info{City: city, Flag: flag}
}
