package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tripvote/pkg/route"
)

func TestEmbeddedCatalogPasses(t *testing.T) {
	stats, err := checkCatalog(route.DefaultCatalog())
	if err != nil {
		t.Fatalf("embedded catalog: %v", err)
	}
	if stats.Regions == 0 || stats.Places < stats.Regions*route.MaxPlaces {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCheckCatalogReportsEveryProblem(t *testing.T) {
	c := &route.Catalog{
		Default: "north",
		Regions: []route.CatalogRegion{
			{Name: "north", Aliases: []string{"uptown"}, Places: []route.CatalogPlace{
				{Name: "Tower", Category: "landmark", Lat: 35.1, Lng: 129.0, Minutes: 30},
				{Name: "tower", Category: "landmark", Lat: 35.1, Lng: 129.0, Minutes: 30},
				{Name: "Pier", Category: "", Lat: 0, Lng: 0, Minutes: 0, Cost: -1},
			}},
			{Name: "south", Aliases: []string{"Uptown"}},
		},
	}
	_, err := checkCatalog(c)
	if err == nil {
		t.Fatalf("expected problems")
	}
	for _, want := range []string{"twice", "invalid coordinates", "positive stay", "negative cost", "no category", `"Uptown" names both`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in:\n%v", want, err)
		}
	}
}

func TestLoadCatalogRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := "default: x\nregions:\n  - name: x\n    place: []\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := loadCatalog(path); err == nil || !strings.Contains(err.Error(), "place") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}
