package parse

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"navfeed/internal/datefmt"
	"navfeed/internal/domain"
)

// Some 2015 archives glue the date to the first manager code without a
// delimiter and wrap each line in quotes. Every scheme in those files belongs
// to PFM001. Lines matching neither pattern are flagged, never guessed.
const legacyManager = "PFM001"

var legacyPatterns = []*regexp.Regexp{
	// 01/02/2015PFM001,manager name,scheme code,scheme name,nav
	regexp.MustCompile(`^(\d{2}/\d{2}/\d{4})PFM001,([^,]+),([^,]+),([^,]+),([^,]+)$`),
	// 01/02/2015,PFM001manager name,scheme code,scheme name,nav
	regexp.MustCompile(`^(\d{2}/\d{2}/\d{4}),PFM001([^,]+),([^,]+),([^,]+),([^,]+)$`),
}

func isLegacySample(sample []byte) bool {
	return bytes.ContainsRune(sample, '"') &&
		(bytes.Contains(sample, []byte("PFM001,")) || bytes.Contains(sample, []byte("PFM001SBI")))
}

// repairLegacyLine extracts an observation from one malformed line. ok is
// false when no pattern matches or the extracted fields do not parse.
func repairLegacyLine(raw string) (obs domain.Observation, reason string, ok bool) {
	line := strings.Trim(strings.TrimSpace(raw), `"`)
	for _, re := range legacyPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		d, err := datefmt.Normalize(m[1])
		if err != nil {
			return obs, "legacy line: bad date", false
		}
		code := strings.TrimSpace(m[3])
		if code == "" {
			return obs, "legacy line: missing instrument code", false
		}
		v, err := ParseValue(m[5])
		if err != nil {
			return obs, "legacy line: bad value", false
		}
		return domain.Observation{
			Date:           d,
			ManagerCode:    legacyManager,
			ManagerName:    strings.TrimSpace(m[2]),
			InstrumentCode: code,
			InstrumentName: strings.TrimSpace(m[4]),
			Value:          v,
		}, "", true
	}
	return obs, "legacy line: no pattern matched", false
}

func parseLegacy(data []byte) Result {
	res := Result{Format: FormatLegacy}
	sc := bufio.NewScanner(bytes.NewReader(trimBOM(data)))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		obs, reason, ok := repairLegacyLine(raw)
		if !ok {
			res.drop(line, reason, raw)
			continue
		}
		res.Records = append(res.Records, obs)
	}
	return res
}
