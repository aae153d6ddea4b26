package rotator

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CalibrationSize is the number of entries a calibration table must hold,
// one per whole-degree azimuth.
const CalibrationSize = 360

// Calibration maps a requested azimuth onto the value actually commanded to
// the rotator, absorbing mounting offsets and gear non-linearity.
type Calibration struct {
	table [CalibrationSize]int
}

// Identity returns a table that commands exactly what was requested.
func Identity() *Calibration {
	c := &Calibration{}
	for i := range c.table {
		c.table[i] = i
	}
	return c
}

// LoadCalibration reads a calibration file from disk.
func LoadCalibration(path string) (*Calibration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	defer f.Close()

	c, err := ParseCalibration(f)
	if err != nil {
		return nil, fmt.Errorf("calibration %s: %w", path, err)
	}
	return c, nil
}

// ParseCalibration reads one signed integer per line. Anything other than
// exactly 360 lines is rejected.
func ParseCalibration(r io.Reader) (*Calibration, error) {
	c := &Calibration{}
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if n >= CalibrationSize {
			return nil, fmt.Errorf("more than %d entries", CalibrationSize)
		}
		v, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		c.table[n] = v
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n != CalibrationSize {
		return nil, fmt.Errorf("got %d entries, want %d", n, CalibrationSize)
	}
	return c, nil
}

// Correct returns the commanded azimuth for a requested one in [0,359].
func (c *Calibration) Correct(az int) int {
	return c.table[az]
}
