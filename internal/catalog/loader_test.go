package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

func TestParseArtists(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single quoted list", raw: "['Daft Punk']", want: []string{"Daft Punk"}},
		{name: "multi list", raw: `['Simon & Garfunkel', "Guns N' Roses"]`, want: []string{"Simon & Garfunkel", "Guns N' Roses"}},
		{name: "escaped quote", raw: `['Guns N\' Roses']`, want: []string{"Guns N' Roses"}},
		{name: "comma inside quotes", raw: `['Earth, Wind & Fire', 'Kool']`, want: []string{"Earth, Wind & Fire", "Kool"}},
		{name: "empty list", raw: "[]", want: nil},
		{name: "plain text", raw: "Madonna", want: []string{"Madonna"}},
		{name: "broken literal", raw: "['Unclosed", want: []string{"Unclosed"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseArtists(tc.raw); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	feed := strings.Join([]string{
		"valence,year,id,name,artists,energy,danceability,tempo",
		`0.8,1999,t1,Song One,"['A', 'B']",0.7,0.6,128`,
		`0.2,2001,,No Id,['C'],0.1,0.1,90`,
		`oops,2003,t2,Song Two,['C'],bad,,`,
		`0.5,2004,t1,Duplicate,['D'],0.9,0.9,100`,
	}, "\n")

	tracks, err := Load(strings.NewReader(feed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracks) != 3 {
		t.Fatalf("expected 3 rows with ids, got %d", len(tracks))
	}

	store := NewStore(tracks)
	if store.Len() != 2 {
		t.Fatalf("expected duplicates collapsed to 2 tracks, got %d", store.Len())
	}

	first, ok := store.Lookup("t1")
	if !ok || first.Name != "Song One" {
		t.Fatalf("expected first t1 row to win, got %+v", first)
	}
	if !reflect.DeepEqual(first.Artists, []string{"A", "B"}) {
		t.Fatalf("artists: got %v", first.Artists)
	}

	second, _ := store.Lookup("t2")
	want := domain.AudioFeatures{
		Energy:       domain.DefaultEnergy,
		Danceability: domain.DefaultDanceability,
		Tempo:        domain.DefaultTempo,
		Valence:      domain.DefaultValence,
	}
	if second.Features != want {
		t.Fatalf("defaults: got %+v, want %+v", second.Features, want)
	}

	order := store.Tracks()
	if order[0].ID != "t1" || order[1].ID != "t2" {
		t.Fatalf("feed order not preserved: %s, %s", order[0].ID, order[1].ID)
	}
}

func TestLoad_MissingIDColumn(t *testing.T) {
	if _, err := Load(strings.NewReader("name,energy\nx,0.1\n")); err == nil {
		t.Fatal("expected error for header without id")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	missing, err := LoadFile(filepath.Join(dir, "absent.csv"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if missing.Len() != 0 {
		t.Fatalf("expected empty store, got %d", missing.Len())
	}

	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte("id,name,energy\nx1,Track,0.4\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr, ok := store.Lookup("x1"); !ok || tr.Features.Energy != 0.4 {
		t.Fatalf("lookup: got %+v, %v", tr, ok)
	}
}
