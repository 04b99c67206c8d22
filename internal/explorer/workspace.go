// Package explorer holds the server-side workspace state: search
// results, the ordered item selection, and per-item visualization
// choices. A workspace is what the browser UI reads and mutates; the
// tile proxy and export queue resolve their work from it.
package explorer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/registry"
	"imagery-explorer/internal/stac"
	"imagery-explorer/internal/tiles"
)

// LayerState is the visualization state of one selected item.
type LayerState struct {
	Band    string                    `json:"band"`
	Rescale *registry.RescaleOverride `json:"rescale,omitempty"`
	Visible bool                      `json:"visible"`
	Opacity float64                   `json:"opacity"`
}

// Workspace is one saved exploration session. Selected holds item IDs
// in selection order; Layers carries the per-item state for exactly the
// selected items.
type Workspace struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Viewport  common.Viewport       `json:"viewport"`
	Search    *stac.SearchParams    `json:"search,omitempty"`
	Results   []stac.Item           `json:"results"`
	Selected  []string              `json:"selected"`
	Layers    map[string]LayerState `json:"layers"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// NewWorkspace creates an empty workspace at the given camera position.
func NewWorkspace(name string, viewport common.Viewport) *Workspace {
	now := time.Now().UTC()
	return &Workspace{
		ID:        uuid.NewString(),
		Name:      name,
		Viewport:  viewport,
		Results:   []stac.Item{},
		Selected:  []string{},
		Layers:    map[string]LayerState{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetViewport records the camera position reported by the map widget.
func (w *Workspace) SetViewport(v common.Viewport) error {
	if v.Lat < -90 || v.Lat > 90 {
		return fmt.Errorf("latitude %.4f out of range [-90, 90]", v.Lat)
	}
	if v.Lon < -180 || v.Lon > 180 {
		return fmt.Errorf("longitude %.4f out of range [-180, 180]", v.Lon)
	}
	if v.Zoom < tiles.MinZoom || v.Zoom > tiles.MaxZoom {
		return fmt.Errorf("zoom %.1f out of range [%d, %d]", v.Zoom, tiles.MinZoom, tiles.MaxZoom)
	}
	w.Viewport = v
	return nil
}

// SetSearch stores the parameters and results of the latest catalog
// search. Selected items that no longer appear in the results are
// dropped so every selection entry stays resolvable.
func (w *Workspace) SetSearch(params stac.SearchParams, results []stac.Item) {
	w.Search = &params
	if results == nil {
		results = []stac.Item{}
	}
	w.Results = results

	present := make(map[string]bool, len(results))
	for _, item := range results {
		present[item.ID] = true
	}
	kept := w.Selected[:0]
	for _, id := range w.Selected {
		if present[id] {
			kept = append(kept, id)
		} else {
			delete(w.Layers, id)
		}
	}
	w.Selected = kept
}

// Item returns a search result by ID.
func (w *Workspace) Item(itemID string) (*stac.Item, error) {
	for i := range w.Results {
		if w.Results[i].ID == itemID {
			return &w.Results[i], nil
		}
	}
	return nil, fmt.Errorf("item %s is not in the current results", itemID)
}

// SelectItem appends an item to the selection and initializes its layer
// state with the collection's default band, fully visible. Selecting an
// already selected item is a no-op.
func (w *Workspace) SelectItem(reg *registry.Registry, itemID string) error {
	item, err := w.Item(itemID)
	if err != nil {
		return err
	}
	for _, id := range w.Selected {
		if id == itemID {
			return nil
		}
	}
	collection, err := reg.Get(item.Collection)
	if err != nil {
		return err
	}
	w.Selected = append(w.Selected, itemID)
	w.Layers[itemID] = LayerState{
		Band:    collection.DefaultBand,
		Visible: true,
		Opacity: 1.0,
	}
	return nil
}

// DeselectItem removes an item and its layer state from the selection.
// Deselecting an item that is not selected is a no-op.
func (w *Workspace) DeselectItem(itemID string) {
	for i, id := range w.Selected {
		if id == itemID {
			w.Selected = append(w.Selected[:i], w.Selected[i+1:]...)
			break
		}
	}
	delete(w.Layers, itemID)
}

// SetBand switches the rendered band of a selected item. The band must
// exist in the item's collection. A rescale override tuned for the
// previous band does not carry over to the new one.
func (w *Workspace) SetBand(reg *registry.Registry, itemID, bandID string) error {
	state, err := w.layerState(itemID)
	if err != nil {
		return err
	}
	item, err := w.Item(itemID)
	if err != nil {
		return err
	}
	collection, err := reg.Get(item.Collection)
	if err != nil {
		return err
	}
	if _, err := collection.Band(bandID); err != nil {
		return err
	}
	if state.Band != bandID {
		state.Rescale = nil
	}
	state.Band = bandID
	w.Layers[itemID] = state
	return nil
}

// SetRange overrides the rescale window of a selected item's current
// band. Passing nil restores the band's default range.
func (w *Workspace) SetRange(reg *registry.Registry, itemID string, override *registry.RescaleOverride) error {
	state, err := w.layerState(itemID)
	if err != nil {
		return err
	}
	if override == nil {
		state.Rescale = nil
		w.Layers[itemID] = state
		return nil
	}
	item, err := w.Item(itemID)
	if err != nil {
		return err
	}
	collection, err := reg.Get(item.Collection)
	if err != nil {
		return err
	}
	band, err := collection.Band(state.Band)
	if err != nil {
		return err
	}
	if !band.RescaleAdjustable {
		return fmt.Errorf("band %s of %s has a fixed range", state.Band, item.Collection)
	}
	if override.Min >= override.Max {
		return fmt.Errorf("rescale override min %g must be less than max %g", override.Min, override.Max)
	}
	state.Rescale = &registry.RescaleOverride{Min: override.Min, Max: override.Max}
	w.Layers[itemID] = state
	return nil
}

// SetVisibility toggles an overlay without touching its other state.
func (w *Workspace) SetVisibility(itemID string, visible bool) error {
	state, err := w.layerState(itemID)
	if err != nil {
		return err
	}
	state.Visible = visible
	w.Layers[itemID] = state
	return nil
}

// SetOpacity sets an overlay's opacity in [0, 1].
func (w *Workspace) SetOpacity(itemID string, opacity float64) error {
	if opacity < 0 || opacity > 1 {
		return fmt.Errorf("opacity %.2f out of range [0, 1]", opacity)
	}
	state, err := w.layerState(itemID)
	if err != nil {
		return err
	}
	state.Opacity = opacity
	w.Layers[itemID] = state
	return nil
}

func (w *Workspace) layerState(itemID string) (LayerState, error) {
	state, ok := w.Layers[itemID]
	if !ok {
		return LayerState{}, fmt.Errorf("item %s is not selected", itemID)
	}
	return state, nil
}

// Clone returns a deep copy that is safe to read and mutate outside the
// store's lock.
func (w *Workspace) Clone() *Workspace {
	out := *w

	out.Selected = append([]string(nil), w.Selected...)

	out.Layers = make(map[string]LayerState, len(w.Layers))
	for id, state := range w.Layers {
		if state.Rescale != nil {
			r := *state.Rescale
			state.Rescale = &r
		}
		out.Layers[id] = state
	}

	out.Results = make([]stac.Item, len(w.Results))
	copy(out.Results, w.Results)
	for i := range out.Results {
		out.Results[i].Bbox = append([]float64(nil), out.Results[i].Bbox...)
	}

	if w.Search != nil {
		s := *w.Search
		out.Search = &s
	}

	return &out
}
