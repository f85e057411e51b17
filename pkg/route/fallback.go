package route

import (
	_ "embed"
	"fmt"
	"hash/fnv"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
	"tripvote/pkg/placeref"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

const (
	fallbackRoutes      = 2
	fallbackRoutePlaces = 4
	minutesBetweenStops = 20
	mustVisitMinutes    = 60
)

// CatalogPlace is a catalog entry with its typical stay and cost.
type CatalogPlace struct {
	Name     string  `yaml:"name"`
	Address  string  `yaml:"address"`
	Category string  `yaml:"category"`
	Lat      float64 `yaml:"lat"`
	Lng      float64 `yaml:"lng"`
	Minutes  int     `yaml:"minutes"`
	Cost     int     `yaml:"cost"`
}

type CatalogRegion struct {
	Name    string         `yaml:"name"`
	Aliases []string       `yaml:"aliases"`
	Places  []CatalogPlace `yaml:"places"`
}

// Catalog is the static place list used by the fallback generator.
type Catalog struct {
	Default string          `yaml:"default"`
	Regions []CatalogRegion `yaml:"regions"`
}

// LoadCatalog parses a catalog and checks every region can fill a route.
func LoadCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Regions) == 0 {
		return nil, fmt.Errorf("catalog has no regions")
	}
	for _, r := range c.Regions {
		if len(r.Places) < MaxPlaces {
			return nil, fmt.Errorf("catalog region %q has %d places, need at least %d", r.Name, len(r.Places), MaxPlaces)
		}
	}
	if c.region(c.Default) == nil {
		return nil, fmt.Errorf("catalog default region %q missing", c.Default)
	}
	return &c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) region(name string) *CatalogRegion {
	key := placeref.Canonical(name)
	if key == "" {
		return nil
	}
	for i := range c.Regions {
		r := &c.Regions[i]
		if placeref.Canonical(r.Name) == key {
			return r
		}
		for _, alias := range r.Aliases {
			if placeref.Canonical(alias) == key {
				return r
			}
		}
	}
	return nil
}

// Resolve picks the region for the given districts, first match wins.
func (c *Catalog) Resolve(districts []string) *CatalogRegion {
	for _, d := range districts {
		if r := c.region(d); r != nil {
			return r
		}
	}
	return c.region(c.Default)
}

// Fallback synthesizes routes from the catalog without external calls.
type Fallback struct {
	catalog *Catalog
}

func NewFallback(catalog *Catalog) *Fallback {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Fallback{catalog: catalog}
}

// Generate returns the same routes for the same room context. It never
// fails and always returns at least one route of 3 to 5 places. Must-visit
// places open every route.
func (f *Fallback) Generate(rc RoomContext) []Candidate {
	region := f.catalog.Resolve(rc.Districts)
	must := f.mustVisit(rc.MustVisit)
	if len(must) > MaxPlaces {
		must = must[:MaxPlaces]
	}
	skip := append(append([]string(nil), rc.Kept...), placeNames(must)...)
	pool := usablePlaces(region.Places, skip)
	if len(pool)+len(must) < MinPlaces {
		// Kept places exhausted the region; widen to the whole catalog.
		var all []CatalogPlace
		for _, r := range f.catalog.Regions {
			all = append(all, r.Places...)
		}
		pool = usablePlaces(all, skip)
	}
	if len(pool)+len(must) < MinPlaces {
		pool = usablePlaces(region.Places, placeNames(must))
	}

	size := fallbackRoutePlaces
	if len(must) > size {
		size = len(must)
	}
	fill := min(size-len(must), len(pool))
	offset := 0
	if len(pool) > 0 {
		offset = int(seed(rc.RoomID) % uint32(len(pool)))
	}
	out := make([]Candidate, 0, fallbackRoutes)
	for i := 0; i < fallbackRoutes; i++ {
		places := make([]CatalogPlace, 0, len(must)+fill)
		places = append(places, must...)
		for j := 0; j < fill; j++ {
			places = append(places, pool[(offset+i*fill+j)%len(pool)])
		}
		out = append(out, candidateFrom(region.Name, i, places))
		if len(pool) <= fill {
			break
		}
	}
	return out
}

// mustVisit maps must-visit places to catalog entries where the catalog
// knows them, so stay time and cost are filled in.
func (f *Fallback) mustVisit(places []Place) []CatalogPlace {
	out := make([]CatalogPlace, 0, len(places))
	seen := make(map[string]struct{}, len(places))
	for _, p := range places {
		k := p.key()
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if known, ok := f.catalog.lookup(k); ok {
			out = append(out, known)
			continue
		}
		out = append(out, CatalogPlace{
			Name:     p.Name,
			Address:  p.Address,
			Category: p.Category,
			Lat:      p.Lat,
			Lng:      p.Lng,
			Minutes:  mustVisitMinutes,
		})
	}
	return out
}

func (c *Catalog) lookup(key string) (CatalogPlace, bool) {
	for _, r := range c.Regions {
		for _, p := range r.Places {
			if placeref.Canonical(p.Name) == key {
				return p, true
			}
		}
	}
	return CatalogPlace{}, false
}

func placeNames(places []CatalogPlace) []string {
	out := make([]string, 0, len(places))
	for _, p := range places {
		out = append(out, p.Name)
	}
	return out
}

func candidateFrom(region string, index int, places []CatalogPlace) Candidate {
	c := Candidate{
		Title:   fmt.Sprintf("%s classic route %d", displayName(region), index+1),
		Summary: "Suggested from the local catalog.",
	}
	for i, p := range places {
		c.Places = append(c.Places, Place{Name: p.Name, Address: p.Address, Category: p.Category, Lat: p.Lat, Lng: p.Lng})
		c.TravelMinutes += p.Minutes
		if i > 0 {
			c.TravelMinutes += minutesBetweenStops
		}
		c.Cost += p.Cost
	}
	return c
}

func usablePlaces(places []CatalogPlace, kept []string) []CatalogPlace {
	drop := make(map[string]struct{}, len(kept))
	for _, name := range kept {
		drop[placeref.Canonical(name)] = struct{}{}
	}
	seen := make(map[string]struct{}, len(places))
	out := make([]CatalogPlace, 0, len(places))
	for _, p := range places {
		k := placeref.Canonical(p.Name)
		if _, ok := drop[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

func displayName(region string) string {
	r, size := utf8.DecodeRuneInString(region)
	if r == utf8.RuneError {
		return region
	}
	return string(unicode.ToUpper(r)) + region[size:]
}

func seed(roomID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return h.Sum32()
}
