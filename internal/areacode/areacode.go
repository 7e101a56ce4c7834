// Package areacode validates and converts the 23 Tokyo ward area codes
// used throughout the scraping control plane (spec.md §6.4).
package areacode

import (
	"strings"

	"github.com/areascope/areascope/internal/types"
)

// byNameOrRomaji maps both the Japanese ward name and its lowercase
// romanisation to the 5-digit code. Data verbatim from the original
// system's ward table, ordered by 2024 posted land-price rank.
var byNameOrRomaji = map[string]string{
	"千代田区": "13101",
	"港区":   "13103",
	"中央区":  "13102",
	"渋谷区":  "13113",
	"新宿区":  "13104",
	"文京区":  "13105",
	"目黒区":  "13110",
	"品川区":  "13109",
	"世田谷区": "13112",
	"豊島区":  "13116",
	"台東区":  "13106",
	"中野区":  "13114",
	"杉並区":  "13115",
	"江東区":  "13108",
	"大田区":  "13111",
	"墨田区":  "13107",
	"北区":   "13117",
	"荒川区":  "13118",
	"板橋区":  "13119",
	"練馬区":  "13120",
	"江戸川区": "13123",
	"葛飾区":  "13122",
	"足立区":  "13121",

	"chiyoda":    "13101",
	"chuo":       "13102",
	"minato":     "13103",
	"shinjuku":   "13104",
	"bunkyo":     "13105",
	"taito":      "13106",
	"sumida":     "13107",
	"koto":       "13108",
	"shinagawa":  "13109",
	"meguro":     "13110",
	"ota":        "13111",
	"setagaya":   "13112",
	"shibuya":    "13113",
	"nakano":     "13114",
	"suginami":   "13115",
	"toshima":    "13116",
	"kita":       "13117",
	"arakawa":    "13118",
	"itabashi":   "13119",
	"nerima":     "13120",
	"adachi":     "13121",
	"katsushika": "13122",
	"edogawa":    "13123",
}

var codeToRomaji = map[string]string{
	"13101": "chiyoda",
	"13102": "chuo",
	"13103": "minato",
	"13104": "shinjuku",
	"13105": "bunkyo",
	"13106": "taito",
	"13107": "sumida",
	"13108": "koto",
	"13109": "shinagawa",
	"13110": "meguro",
	"13111": "ota",
	"13112": "setagaya",
	"13113": "shibuya",
	"13114": "nakano",
	"13115": "suginami",
	"13116": "toshima",
	"13117": "kita",
	"13118": "arakawa",
	"13119": "itabashi",
	"13120": "nerima",
	"13121": "adachi",
	"13122": "katsushika",
	"13123": "edogawa",
}

// recognised is the fixed known set of valid 5-digit codes (spec.md §6.4).
var recognised = buildRecognisedSet()

func buildRecognisedSet() map[string]bool {
	s := make(map[string]bool, len(codeToRomaji))
	for code := range codeToRomaji {
		s[code] = true
	}
	return s
}

// IsValidCode reports whether code is one of the 23 recognised ward codes.
func IsValidCode(code string) bool {
	return recognised[code]
}

// NameToCode converts a ward name (Japanese or lowercase romaji) or an
// already-valid 5-digit code to its code. ok is false if area is neither a
// recognised name nor a recognised code.
func NameToCode(area string) (code string, ok bool) {
	if isFiveDigitNumeric(area) {
		if recognised[area] {
			return area, true
		}
		return "", false
	}
	if code, found := byNameOrRomaji[area]; found {
		return code, true
	}
	if code, found := byNameOrRomaji[strings.ToLower(area)]; found {
		return code, true
	}
	return "", false
}

// CodeToRomaji returns the lowercase romaji name for a recognised code.
func CodeToRomaji(code string) (string, bool) {
	name, ok := codeToRomaji[code]
	return name, ok
}

func isFiveDigitNumeric(s string) bool {
	if len(s) != 5 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidateAreas converts a list of area identifiers (names or codes) to
// their canonical codes, collecting every offending entry rather than
// failing on the first. Returns an *types.InvalidArgumentError when any
// entry is unrecognised (spec.md §6.4, Testable property 8).
func ValidateAreas(areas []string) ([]string, error) {
	codes := make([]string, 0, len(areas))
	var offenders []string
	for _, a := range areas {
		code, ok := NameToCode(a)
		if !ok {
			offenders = append(offenders, a)
			continue
		}
		codes = append(codes, code)
	}
	if len(offenders) > 0 {
		return nil, &types.InvalidArgumentError{Field: "areas", Offenders: offenders}
	}
	return codes, nil
}
