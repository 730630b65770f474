package importer

import (
	"bufio"
	"fmt"
	"strings"
)

const dialectSample = 16 * 1024

// Dialect describes how a delimited source is split into fields.
type Dialect struct {
	Delimiter rune
	// Sniffed is false when no candidate delimiter was consistent and the
	// comma default is used.
	Sniffed bool
}

func (d Dialect) String() string {
	if d.Sniffed {
		return fmt.Sprintf("delimiter=%q", d.Delimiter)
	}
	return fmt.Sprintf("delimiter=%q (default)", d.Delimiter)
}

var DefaultDialect = Dialect{Delimiter: ','}

// Preference order when two delimiters are equally consistent and split
// records into the same number of fields.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// SniffDialect inspects up to 16 KiB of decoded text without consuming it.
// Only the candidate delimiters are considered; anything else falls back to
// the comma default.
func SniffDialect(r *bufio.Reader) Dialect {
	sample, _ := r.Peek(dialectSample)
	return sniffSample(string(sample), len(sample) >= dialectSample)
}

func sniffSample(sample string, truncated bool) Dialect {
	sample = strings.ReplaceAll(sample, "\x00", "")
	records := splitRecords(sample, truncated)
	if len(records) == 0 {
		return DefaultDialect
	}

	best := DefaultDialect
	bestScore, bestCount := 0.0, 0
	for _, delimiter := range delimiterCandidates {
		score, count := consistency(records, delimiter)
		if score > bestScore || (score == bestScore && count > bestCount) {
			best = Dialect{Delimiter: delimiter, Sniffed: true}
			bestScore, bestCount = score, count
		}
	}
	if bestScore < 0.5 {
		return DefaultDialect
	}
	return best
}

// splitRecords breaks the sample on newlines outside quotes. A trailing
// partial record is dropped when the sample was cut short.
func splitRecords(sample string, truncated bool) []string {
	records := make([]string, 0, 32)
	var (
		inQuotes bool
		start    int
	)
	for i := 0; i < len(sample); i++ {
		switch sample[i] {
		case '"':
			inQuotes = !inQuotes
		case '\n':
			if inQuotes {
				continue
			}
			if record := strings.TrimRight(sample[start:i], "\r"); strings.TrimSpace(record) != "" {
				records = append(records, record)
			}
			start = i + 1
		}
	}
	if !truncated && start < len(sample) {
		if record := strings.TrimRight(sample[start:], "\r"); strings.TrimSpace(record) != "" {
			records = append(records, record)
		}
	}
	return records
}

// consistency is the share of records whose delimiter count equals the most
// common non-zero count, and that count.
func consistency(records []string, delimiter rune) (float64, int) {
	frequencies := make(map[int]int, 4)
	for _, record := range records {
		frequencies[countOutsideQuotes(record, delimiter)]++
	}

	modeCount, modeRecords := 0, 0
	for count, n := range frequencies {
		if count == 0 {
			continue
		}
		if n > modeRecords || (n == modeRecords && count > modeCount) {
			modeCount, modeRecords = count, n
		}
	}
	if modeCount == 0 {
		return 0, 0
	}
	return float64(modeRecords) / float64(len(records)), modeCount
}

func countOutsideQuotes(record string, delimiter rune) int {
	count := 0
	inQuotes := false
	for _, r := range record {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == delimiter && !inQuotes:
			count++
		}
	}
	return count
}
