// Command catalogcheck lints fallback place catalogs before they are deployed
// with PLANNER_FALLBACK_CATALOG. Without arguments it checks the embedded one.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	"tripvote/pkg/placeref"
	"tripvote/pkg/route"
)

type catalogStats struct {
	Regions int
	Places  int
}

func main() {
	if len(os.Args) > 1 && strings.HasPrefix(os.Args[1], "-") {
		fmt.Fprintf(os.Stderr, "usage: %s [catalog.yaml ...]\n", os.Args[0])
		os.Exit(2)
	}
	if len(os.Args) == 1 {
		stats, err := checkCatalog(route.DefaultCatalog())
		if err != nil {
			exitErr(fmt.Errorf("embedded catalog: %w", err))
		}
		report("embedded catalog", stats)
		return
	}
	for _, path := range os.Args[1:] {
		catalog, err := loadCatalog(path)
		if err != nil {
			exitErr(err)
		}
		stats, err := checkCatalog(catalog)
		if err != nil {
			exitErr(fmt.Errorf("%s: %w", path, err))
		}
		report(path, stats)
	}
}

func report(name string, stats catalogStats) {
	fmt.Printf("%s: %d regions, %d places. Catalog check passed.\n", name, stats.Regions, stats.Places)
}

func loadCatalog(path string) (*route.Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	// Reject unknown keys before the lenient loader sees the file.
	var strict route.Catalog
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&strict); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	catalog, err := route.LoadCatalog(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return catalog, nil
}

// checkCatalog runs the checks LoadCatalog leaves out and joins every problem.
func checkCatalog(c *route.Catalog) (catalogStats, error) {
	var problems []error
	stats := catalogStats{Regions: len(c.Regions)}
	owners := make(map[string]string)
	for _, r := range c.Regions {
		stats.Places += len(r.Places)
		keys := append([]string{r.Name}, r.Aliases...)
		for _, k := range keys {
			key := placeref.Canonical(k)
			if key == "" {
				problems = append(problems, fmt.Errorf("region %q has an empty name or alias", r.Name))
				continue
			}
			if prev, ok := owners[key]; ok && prev != r.Name {
				problems = append(problems, fmt.Errorf("%q names both region %q and %q", k, prev, r.Name))
				continue
			}
			owners[key] = r.Name
		}
		problems = append(problems, validateRegion(r)...)
	}
	if len(problems) == 0 {
		return stats, nil
	}
	sort.Slice(problems, func(i, j int) bool { return problems[i].Error() < problems[j].Error() })
	return stats, errors.Join(problems...)
}

func validateRegion(r route.CatalogRegion) []error {
	var problems []error
	seen := make(map[string]bool, len(r.Places))
	for _, p := range r.Places {
		name := placeref.Canonical(p.Name)
		switch {
		case name == "":
			problems = append(problems, fmt.Errorf("region %q has a place without a name", r.Name))
			continue
		case seen[name]:
			problems = append(problems, fmt.Errorf("region %q lists %q twice", r.Name, p.Name))
		}
		seen[name] = true
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 || (p.Lat == 0 && p.Lng == 0) {
			problems = append(problems, fmt.Errorf("region %q place %q has invalid coordinates", r.Name, p.Name))
		}
		if p.Minutes <= 0 {
			problems = append(problems, fmt.Errorf("region %q place %q needs a positive stay in minutes", r.Name, p.Name))
		}
		if p.Cost < 0 {
			problems = append(problems, fmt.Errorf("region %q place %q has a negative cost", r.Name, p.Name))
		}
		if strings.TrimSpace(p.Category) == "" {
			problems = append(problems, fmt.Errorf("region %q place %q has no category", r.Name, p.Name))
		}
	}
	return problems
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
