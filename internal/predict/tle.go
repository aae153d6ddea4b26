package predict

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/akhenakh/sgp4"
)

const tleCacheFile = "tle_cache.txt"

// Elements is one parsed element set. The raw lines are kept because the
// look-angle propagator parses them independently of the pass finder.
type Elements struct {
	Name    string
	NoradID int
	Line1   string
	Line2   string

	tle *sgp4.TLE
}

// TLEStore fetches and caches element sets. Sources are tried in order: an
// operator-supplied file, a fresh disk cache, the network, then a stale disk
// cache.
type TLEStore struct {
	url      string
	override string
	dataRoot string
	maxAge   time.Duration
	client   *http.Client
}

func NewTLEStore(tleURL, overridePath, dataRoot string, refreshHours int) *TLEStore {
	return &TLEStore{
		url:      tleURL,
		override: overridePath,
		dataRoot: dataRoot,
		maxAge:   time.Duration(refreshHours) * time.Hour,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Lookup returns the element set for a satellite, matched by NORAD ID when
// one is given and by name otherwise.
func (s *TLEStore) Lookup(ctx context.Context, sat Satellite) (Elements, error) {
	all, err := s.Fetch(ctx)
	if err != nil {
		return Elements{}, err
	}
	for _, e := range all {
		if sat.NoradID != 0 && e.NoradID == sat.NoradID {
			return e, nil
		}
		if sat.NoradID == 0 && strings.EqualFold(e.Name, sat.Name) {
			return e, nil
		}
	}
	return Elements{}, fmt.Errorf("no TLE for %s (NORAD %d)", sat.Name, sat.NoradID)
}

// Fetch returns every element set the current source holds.
func (s *TLEStore) Fetch(ctx context.Context) ([]Elements, error) {
	raw, err := s.load(ctx, false)
	if err != nil {
		return nil, err
	}
	return ParseTLEs(raw)
}

// ForceRefresh ignores cache age and returns how many element sets the
// network copy holds.
func (s *TLEStore) ForceRefresh(ctx context.Context) (int, error) {
	raw, err := s.load(ctx, true)
	if err != nil {
		return 0, err
	}
	els, err := ParseTLEs(raw)
	return len(els), err
}

func (s *TLEStore) load(ctx context.Context, force bool) (string, error) {
	if s.override != "" {
		b, err := os.ReadFile(s.override)
		if err != nil {
			return "", fmt.Errorf("tle file: %w", err)
		}
		return string(b), nil
	}

	cachePath := filepath.Join(s.dataRoot, tleCacheFile)
	if !force {
		info, err := os.Stat(cachePath)
		if err == nil && time.Since(info.ModTime()) < s.maxAge {
			if b, readErr := os.ReadFile(cachePath); readErr == nil && len(b) > 0 {
				return string(b), nil
			}
		}
	}

	body, fetchErr := s.fetch(ctx)
	if fetchErr == nil {
		// The data is already in memory; a failed cache write only costs a
		// refetch next time.
		_ = writeFileAtomic(cachePath, body)
		return body, nil
	}
	if force {
		return "", fetchErr
	}

	if b, readErr := os.ReadFile(cachePath); readErr == nil && len(b) > 0 {
		return string(b), nil
	}
	return "", fmt.Errorf("all TLE sources exhausted: %w", fetchErr)
}

func (s *TLEStore) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("TLE fetch returned HTTP %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// writeFileAtomic writes through a temp file and rename so readers never
// see a partial file.
func writeFileAtomic(path, data string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "tle-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ParseTLEs reads three-line (name, line 1, line 2) element sets as served
// by CelesTrak. Groups that fail to parse are skipped.
func ParseTLEs(raw string) ([]Elements, error) {
	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	var out []Elements
	for i := 0; i+2 < len(lines); {
		name, l1, l2 := lines[i], lines[i+1], lines[i+2]
		if !strings.HasPrefix(l1, "1 ") || !strings.HasPrefix(l2, "2 ") {
			i++
			continue
		}
		i += 3

		tle, err := sgp4.ParseTLE(name + "\n" + l1 + "\n" + l2)
		if err != nil {
			continue
		}
		id := tle.SatelliteNumber
		if id == 0 && len(l1) >= 7 {
			id, _ = strconv.Atoi(strings.TrimSpace(l1[2:7]))
		}
		out = append(out, Elements{
			Name:    strings.TrimSpace(strings.TrimPrefix(name, "0 ")),
			NoradID: id,
			Line1:   l1,
			Line2:   l2,
			tle:     tle,
		})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no element sets found in %d lines of input", len(lines))
	}
	return out, nil
}
