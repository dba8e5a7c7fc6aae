package espat

import (
	"regexp"
	"strings"
)

// Variant distinguishes firmware families whose status-query AT verb
// differs (spec.md §4.1, "device variant detection").
type Variant int

const (
	VariantUnknown Variant = iota
	VariantLegacy          // ESP8266 / original ESP32: CIPSTATUS
	VariantModern          // ESP32-C2/C3/C6: CIPSTATE
)

// DeviceInfo captures the parsed AT/SDK version banner (SPEC_FULL.md §4.2)
// plus the device's soft-AP identity, introspected once as part of the
// reset sequence's `CIPAP?`/`CIPAPMAC?` getters.
type DeviceInfo struct {
	AtVersion   string
	SdkVersion  string
	CompileTime string
	Variant     Variant

	SoftAPIP  [4]byte
	SoftAPMAC [6]byte
}

var atVersionRE = regexp.MustCompile(`AT version:\s*([^\r\n(]+)`)
var sdkVersionRE = regexp.MustCompile(`SDK version:\s*([^\r\n(]+)`)
var compileTimeRE = regexp.MustCompile(`compile time\s*:?\s*([^\r\n]+)`)

// modernMarkers lists SDK-banner substrings seen only on firmware that
// speaks CIPSTATE instead of CIPSTATUS. The mapping is a string-table
// lookup on the GMR banner exactly as spec.md §4.2 describes, not a
// parsed version comparison, because the banner format itself is not
// strictly semver across silicon families.
var modernMarkers = []string{"esp32c2", "esp32c3", "esp32c6", "esp32-c2", "esp32-c3", "esp32-c6"}

// ParseVersionBanner extracts version fields from the "AT version ..." /
// "SDK version ..." response lines and classifies the device variant.
// Grounded on original_source/src/esp/esp.c's version-parsing path.
func ParseVersionBanner(existing DeviceInfo, line string) DeviceInfo {
	if m := atVersionRE.FindStringSubmatch(line); m != nil {
		existing.AtVersion = strings.TrimSpace(m[1])
	}
	if m := sdkVersionRE.FindStringSubmatch(line); m != nil {
		existing.SdkVersion = strings.TrimSpace(m[1])
	}
	if m := compileTimeRE.FindStringSubmatch(line); m != nil {
		existing.CompileTime = strings.TrimSpace(m[1])
	}
	lower := strings.ToLower(line)
	for _, marker := range modernMarkers {
		if strings.Contains(lower, marker) {
			existing.Variant = VariantModern
			return existing
		}
	}
	if existing.Variant == VariantUnknown && (existing.AtVersion != "" || existing.SdkVersion != "") {
		existing.Variant = VariantLegacy
	}
	return existing
}

// StatusQueryVerb selects CIPSTATUS or CIPSTATE depending on the detected
// variant, consulted once per status query site (spec.md §4.1: "a single
// helper consulted at runtime"). Defaults to the legacy CIPSTATUS when the
// variant hasn't been detected yet (e.g. before the reset sequence's GMR
// step has completed).
func (d DeviceInfo) StatusQueryVerb() Cmd {
	if d.Variant == VariantModern {
		return CmdCIPSTATE
	}
	return CmdCIPSTATUS
}
