package importer

import (
	"bufio"
	"fmt"
	"os"
	"time"
)

const (
	DefaultMaxLogLines = 10000
	DefaultLogSuffix   = ".import.log"
)

// Diagnostic is one non-fatal defect found while importing.
type Diagnostic struct {
	Line   int
	Reason string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[Line %d] %s", d.Line, d.Reason)
}

type logHeader struct {
	Source   string
	RunID    string
	Encoding Encoding
	Dialect  Dialect
	Time     time.Time
}

// writeDiagnosticLog writes the header block, the kept diagnostics and a
// count of omitted ones to path, replacing any previous log.
func writeDiagnosticLog(path string, header logHeader, diagnostics []Diagnostic, omitted int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create diagnostic log %s: %w", path, err)
	}
	defer file.Close()

	bom := "no"
	if header.Encoding.BOM {
		bom = "yes"
	}

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "Source: %s\n", header.Source)
	fmt.Fprintf(w, "Run: %s\n", header.RunID)
	fmt.Fprintf(w, "Encoding: %s (BOM: %s)\n", header.Encoding.Name, bom)
	fmt.Fprintf(w, "Dialect: %s\n", header.Dialect)
	fmt.Fprintf(w, "Timestamp: %s\n\n", header.Time.Format(time.RFC3339))

	for _, d := range diagnostics {
		fmt.Fprintln(w, d.String())
	}
	if omitted > 0 {
		fmt.Fprintf(w, "... %d more diagnostics omitted\n", omitted)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("write diagnostic log %s: %w", path, err)
	}
	return file.Close()
}
