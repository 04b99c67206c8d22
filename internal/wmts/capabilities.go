// Package wmts parses WMTS GetCapabilities documents so custom basemap
// endpoints can be registered and proxied as XYZ tile layers.
package wmts

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WMTS XML structures for parsing capabilities
type Capabilities struct {
	XMLName  xml.Name `xml:"Capabilities"`
	Contents Contents `xml:"Contents"`
}

type Contents struct {
	Layers []Layer `xml:"Layer"`
}

type Layer struct {
	Title              string              `xml:"http://www.opengis.net/ows/1.1 Title"`
	Abstract           string              `xml:"http://www.opengis.net/ows/1.1 Abstract"`
	Identifier         string              `xml:"http://www.opengis.net/ows/1.1 Identifier"`
	TileMatrixSetLinks []TileMatrixSetLink `xml:"TileMatrixSetLink"`
	ResourceURL        []ResourceURL       `xml:"ResourceURL"`
}

type TileMatrixSetLink struct {
	TileMatrixSet string `xml:"TileMatrixSet"`
}

type ResourceURL struct {
	Format       string `xml:"format,attr"`
	ResourceType string `xml:"resourceType,attr"`
	Template     string `xml:"template,attr"`
}

// LayerInfo represents parsed WMTS layer information
type LayerInfo struct {
	Name          string `json:"name"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	TileMatrixSet string `json:"tileMatrixSet,omitempty"`
	TemplateURL   string `json:"templateUrl,omitempty"`
	Format        string `json:"format,omitempty"`
}

var httpClient = &http.Client{Timeout: 15 * time.Second}

// FetchCapabilities fetches and parses WMTS capabilities from a URL
func FetchCapabilities(ctx context.Context, url string) (*Capabilities, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capabilities: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch capabilities: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var caps Capabilities
	if err := xml.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	return &caps, nil
}

// GetLayers extracts layer information from capabilities
func GetLayers(caps *Capabilities) []LayerInfo {
	var layers []LayerInfo

	for _, layer := range caps.Contents.Layers {
		info := LayerInfo{
			Name:        layer.Identifier,
			Title:       layer.Title,
			Description: layer.Abstract,
		}

		if len(layer.TileMatrixSetLinks) > 0 {
			info.TileMatrixSet = layer.TileMatrixSetLinks[0].TileMatrixSet
		}

		for _, resource := range layer.ResourceURL {
			if resource.ResourceType == "tile" {
				info.TemplateURL = ConvertTemplateToXYZ(resource.Template)
				info.Format = resource.Format
				break
			}
		}

		layers = append(layers, info)
	}

	return layers
}

// ConvertTemplateToXYZ converts a WMTS tile template to XYZ placeholders
// Example: ...&TileMatrix={TileMatrix}&TileCol={TileCol}&TileRow={TileRow}
// Becomes: ...&TileMatrix={z}&TileCol={x}&TileRow={y}
func ConvertTemplateToXYZ(template string) string {
	result := strings.ReplaceAll(template, "{TileMatrix}", "{z}")
	result = strings.ReplaceAll(result, "{TileCol}", "{x}")
	result = strings.ReplaceAll(result, "{TileRow}", "{y}")
	return result
}

// ValidateEndpoint checks that a URL is a WMTS capabilities endpoint and
// returns its tile layers
func ValidateEndpoint(ctx context.Context, url string) ([]LayerInfo, error) {
	caps, err := FetchCapabilities(ctx, url)
	if err != nil {
		return nil, err
	}

	layers := GetLayers(caps)
	if len(layers) == 0 {
		return nil, fmt.Errorf("no layers found in capabilities")
	}

	return layers, nil
}
