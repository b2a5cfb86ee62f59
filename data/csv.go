package data

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

type errInvalidLine struct {
	lineNum  int
	fields   int
	expected int
}

func (e errInvalidLine) Error() string {
	return fmt.Sprintf("at line %d, expected %d values, got %d",
		e.lineNum, e.expected, e.fields)
}

// LoadCSV reads a dataset file where each line is the label followed by the
// pixel intensities (0-255). classes <= 0 infers the count from the labels.
func LoadCSV(filename string, classes int) (*Dataset, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	ds, err := ReadCSV(bufio.NewReader(file), classes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return ds, nil
}

// ReadCSV parses label-first rows and scales features by 1/255.
func ReadCSV(r io.Reader, classes int) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	ds := &Dataset{}
	width := 0
	maxLabel := -1
	for lineNum := 1; ; lineNum++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if width == 0 {
			width = len(record)
			if width < 2 {
				return nil, errInvalidLine{lineNum: lineNum, fields: width, expected: 2}
			}
		}
		if len(record) != width {
			return nil, errInvalidLine{lineNum: lineNum, fields: len(record), expected: width}
		}
		label, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, fmt.Errorf("parsing label at line %d: %w", lineNum, err)
		}
		inputs := make([]float64, width-1)
		for i := range inputs {
			x, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("parsing input at line %d: %w", lineNum, err)
			}
			inputs[i] = x / 255.0
		}
		if label > maxLabel {
			maxLabel = label
		}
		ds.Inputs = append(ds.Inputs, inputs)
		ds.Labels = append(ds.Labels, label)
	}
	ds.Classes = classes
	if classes <= 0 {
		ds.Classes = maxLabel + 1
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}
