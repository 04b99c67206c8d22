package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// FilterCapabilities declares which search filters a collection supports
type FilterCapabilities struct {
	DateRange  bool `json:"dateRange"`
	CloudCover bool `json:"cloudCover"`
}

// LegendSpec is the static legend metadata attached to a band.
// Min/max labels are normally derived from the rescale range; MinLabel and
// MaxLabel override them for bands whose raw values are not display units
// (e.g. thermal DN vs Kelvin).
type LegendSpec struct {
	Title    string        `json:"title"`
	Units    string        `json:"units,omitempty"`
	MinLabel string        `json:"minLabel,omitempty"`
	MaxLabel string        `json:"maxLabel,omitempty"`
	Classes  []LegendClass `json:"classes,omitempty"`
}

// LegendClass is one entry of a discrete classification legend
type LegendClass struct {
	Value int    `json:"value"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// Band describes one renderable view of a collection's items
type Band struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`

	// Assets to request from TiTiler; ignored when Expression is set
	Assets []string `json:"assets,omitempty"`

	// Expression is TiTiler band math over asset names, e.g. "(nir-red)/(nir+red)"
	Expression string `json:"expression,omitempty"`

	// Rescale is the default min/max mapping raw values to display range.
	// A zero-valued pair means no rescale parameter is sent.
	Rescale           [2]float64 `json:"rescale"`
	RescaleAdjustable bool       `json:"rescaleAdjustable"`

	// Colormap is a TiTiler colormap_name; ColormapJSON is a discrete
	// value->color mapping sent as the colormap parameter instead
	Colormap     string            `json:"colormap,omitempty"`
	ColormapJSON map[string]string `json:"colormapJson,omitempty"`

	Legend LegendSpec `json:"legend"`
}

// Extent is live catalog metadata filled in by Enrich
type Extent struct {
	TemporalStart *time.Time `json:"temporalStart,omitempty"`
	TemporalEnd   *time.Time `json:"temporalEnd,omitempty"` // nil while the collection is still growing
	Bbox          []float64  `json:"bbox,omitempty"`        // [west, south, east, north]
}

// Collection describes one STAC collection the explorer knows how to render
type Collection struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	Attribution     string             `json:"attribution"`
	DefaultBand     string             `json:"defaultBand"`
	Bands           []Band             `json:"bands"`
	Capabilities    FilterCapabilities `json:"capabilities"`
	DefaultMaxCloud int                `json:"defaultMaxCloud,omitempty"`
	MinZoom         int                `json:"minZoom"`
	MaxZoom         int                `json:"maxZoom"`
	Extent          *Extent            `json:"extent,omitempty"`
}

// Band returns the band with the given ID
func (c *Collection) Band(id string) (*Band, error) {
	for i := range c.Bands {
		if c.Bands[i].ID == id {
			return &c.Bands[i], nil
		}
	}
	return nil, fmt.Errorf("band %q not found in collection %q", id, c.ID)
}

// Registry holds the collection table
type Registry struct {
	mu          sync.RWMutex
	collections []*Collection
	byID        map[string]*Collection
}

// New builds a registry from a set of collections
func New(collections []*Collection) (*Registry, error) {
	r := &Registry{
		collections: collections,
		byID:        make(map[string]*Collection, len(collections)),
	}
	for _, c := range collections {
		if _, dup := r.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate collection ID: %s", c.ID)
		}
		r.byID[c.ID] = c
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Default returns the built-in collection table
func Default() *Registry {
	r, err := New(builtinCollections())
	if err != nil {
		// The builtin table is static; a validation failure here is a programming error
		panic(fmt.Sprintf("builtin collection table invalid: %v", err))
	}
	return r
}

// List returns all collections in table order
func (r *Registry) List() []*Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Collection, len(r.collections))
	copy(result, r.collections)
	return result
}

// Get returns the collection with the given ID
func (r *Registry) Get(id string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("collection %q not found", id)
	}
	return c, nil
}

// ExtentSource provides live collection metadata, typically the STAC client
type ExtentSource interface {
	FetchCollectionExtent(ctx context.Context, collectionID string) (*Extent, error)
}

// Enrich fills live temporal/spatial extent into the registry entries.
// Enrichment is advisory: a catalog outage leaves the static table usable.
func (r *Registry) Enrich(ctx context.Context, src ExtentSource) {
	for _, c := range r.List() {
		extent, err := src.FetchCollectionExtent(ctx, c.ID)
		if err != nil {
			log.Printf("[Registry] Extent lookup failed for %s: %v", c.ID, err)
			continue
		}

		r.mu.Lock()
		c.Extent = extent
		r.mu.Unlock()
	}
}

// validate checks internal consistency of the collection table
func (r *Registry) validate() error {
	for _, c := range r.collections {
		if c.ID == "" {
			return fmt.Errorf("collection with empty ID")
		}
		if len(c.Bands) == 0 {
			return fmt.Errorf("collection %s has no bands", c.ID)
		}
		if c.MinZoom < 0 || c.MaxZoom < c.MinZoom {
			return fmt.Errorf("collection %s has invalid zoom range [%d, %d]", c.ID, c.MinZoom, c.MaxZoom)
		}

		seen := make(map[string]bool, len(c.Bands))
		for i := range c.Bands {
			b := &c.Bands[i]
			if b.ID == "" {
				return fmt.Errorf("collection %s has a band with empty ID", c.ID)
			}
			if seen[b.ID] {
				return fmt.Errorf("collection %s has duplicate band %s", c.ID, b.ID)
			}
			seen[b.ID] = true

			if len(b.Assets) == 0 && b.Expression == "" {
				return fmt.Errorf("band %s/%s has neither assets nor expression", c.ID, b.ID)
			}
			if b.Rescale[0] != 0 || b.Rescale[1] != 0 {
				if b.Rescale[0] >= b.Rescale[1] {
					return fmt.Errorf("band %s/%s has invalid rescale [%g, %g]", c.ID, b.ID, b.Rescale[0], b.Rescale[1])
				}
			} else if b.RescaleAdjustable {
				return fmt.Errorf("band %s/%s is rescale-adjustable but has no default rescale", c.ID, b.ID)
			}
			if b.Colormap != "" && b.ColormapJSON != nil {
				return fmt.Errorf("band %s/%s sets both colormap and colormapJson", c.ID, b.ID)
			}
		}

		if _, err := c.Band(c.DefaultBand); err != nil {
			return fmt.Errorf("collection %s default band: %w", c.ID, err)
		}
	}
	return nil
}
