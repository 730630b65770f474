package importer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

type csvSource struct {
	file     *os.File
	encoding Encoding
	text     *bufio.Reader
	dialect  Dialect
	reader   *csv.Reader
}

func openCSVSource(path string) (*csvSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv file %s: %w", path, err)
	}

	sample := make([]byte, encodingSample+1)
	n, err := io.ReadFull(file, sample)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		_ = file.Close()
		return nil, fmt.Errorf("read csv sample %s: %w", path, err)
	}
	truncated := n > encodingSample
	if truncated {
		n = encodingSample
	}
	encoding := DetectEncoding(sample[:n], truncated)

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("rewind csv file %s: %w", path, err)
	}

	return &csvSource{
		file:     file,
		encoding: encoding,
		text:     bufio.NewReaderSize(encoding.NewReader(file), 2*dialectSample),
		dialect:  DefaultDialect,
	}, nil
}

func (s *csvSource) Format() string     { return FormatCSV }
func (s *csvSource) Encoding() Encoding { return s.encoding }

func (s *csvSource) Sniff() Dialect {
	s.dialect = SniffDialect(s.text)
	return s.dialect
}

func (s *csvSource) ReadHeader() ([]string, error) {
	reader := csv.NewReader(s.text)
	reader.Comma = s.dialect.Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	s.reader = reader

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	return headers, nil
}

func (s *csvSource) Next() ([]string, int, error) {
	if s.reader == nil {
		return nil, 0, fmt.Errorf("csv header not read")
	}
	row, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, io.EOF
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read csv row: %w", err)
	}
	line, _ := s.reader.FieldPos(0)
	return row, line, nil
}

func (s *csvSource) Close() error {
	return s.file.Close()
}
