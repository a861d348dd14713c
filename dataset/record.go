package dataset

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Object is one labelled box in source image pixels.
type Object struct {
	XMin, YMin, XMax, YMax float32
	Class                  int
}

// Record is one line of a list file.
type Record struct {
	Path    string
	Objects []Object
}

// ParseRecord parses "path xmin ymin xmax ymax class [xmin ymin xmax ymax class ...]".
func ParseRecord(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Record{}, errors.New("empty record")
	}
	rest := fields[1:]
	if len(rest)%5 != 0 {
		return Record{}, errors.Errorf("record %q: %d box values is not a multiple of 5", fields[0], len(rest))
	}

	rec := Record{Path: fields[0], Objects: make([]Object, 0, len(rest)/5)}
	for i := 0; i < len(rest); i += 5 {
		var v [4]float32
		for k := 0; k < 4; k++ {
			f, err := strconv.ParseFloat(rest[i+k], 32)
			if err != nil {
				return Record{}, errors.Wrapf(err, "record %q: box %d", fields[0], i/5)
			}
			v[k] = float32(f)
		}
		class, err := strconv.Atoi(rest[i+4])
		if err != nil {
			return Record{}, errors.Wrapf(err, "record %q: class of box %d", fields[0], i/5)
		}
		rec.Objects = append(rec.Objects, Object{XMin: v[0], YMin: v[1], XMax: v[2], YMax: v[3], Class: class})
	}
	return rec, nil
}

// ReadRecords reads a list file. Blank lines and lines starting with '#'
// are skipped.
func ReadRecords(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rec, err := ParseRecord(text)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadRecordsFile reads the list file at path.
func ReadRecordsFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open list file %q", path)
	}
	defer f.Close()

	records, err := ReadRecords(f)
	if err != nil {
		return nil, errors.Wrapf(err, "list file %q", path)
	}
	return records, nil
}
