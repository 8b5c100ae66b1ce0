package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

// Load parses a CSV feed with a header row. Recognized columns are id, name,
// artists, energy, danceability, tempo and valence; others are ignored.
// Rows without an id are skipped and unparsable numbers fall back to defaults.
func Load(r io.Reader) ([]domain.Track, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	if _, ok := cols["id"]; !ok {
		return nil, fmt.Errorf("catalog: header has no id column")
	}

	var tracks []domain.Track
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: line %d: %w", line, err)
		}
		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		id := field("id")
		if id == "" {
			continue
		}
		tracks = append(tracks, domain.NewTrack(id, field("name"), ParseArtists(field("artists")), domain.AudioFeatures{
			Energy:       parseFloat(field("energy"), domain.DefaultEnergy),
			Danceability: parseFloat(field("danceability"), domain.DefaultDanceability),
			Tempo:        parseFloat(field("tempo"), domain.DefaultTempo),
			Valence:      parseFloat(field("valence"), domain.DefaultValence),
		}))
	}
	return tracks, nil
}

// LoadFile opens path and loads it into a Store. A missing file yields an
// empty store, which disables automatic selection without failing startup.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewStore(nil), nil
		}
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()

	tracks, err := Load(f)
	if err != nil {
		return nil, err
	}
	return NewStore(tracks), nil
}

// ParseArtists accepts either a list literal such as ['A', "B"] or plain text.
func ParseArtists(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		cleaned := strings.Trim(raw, "[]'\" ")
		if cleaned == "" {
			return nil
		}
		return []string{cleaned}
	}

	body := raw[1 : len(raw)-1]
	var (
		out   []string
		cur   strings.Builder
		quote rune
		esc   bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, r := range body {
		switch {
		case esc:
			cur.WriteRune(r)
			esc = false
		case r == '\\' && quote != 0:
			esc = true
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '\'' || r == '"'):
			quote = r
		case quote == 0 && r == ',':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func parseFloat(raw string, def float64) float64 {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}
