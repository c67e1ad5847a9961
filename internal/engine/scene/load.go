package scene

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/dshills/tabletop/internal/engine/operation"
)

// Document describes a scene on disk.
//
//	floors:
//	  - id: 0
//	    name: ground
//	    layers: [map, tokens, dm]
//	shapes:
//	  - uuid: A
//	    type: rect
//	    x: 0
//	    y: 0
//	    width: 10
//	    height: 5
//	    floor: 0
//	    layer: tokens
type Document struct {
	Floors []FloorDoc `yaml:"floors"`
	Shapes []ShapeDoc `yaml:"shapes"`
}

// FloorDoc describes one floor.
type FloorDoc struct {
	ID     int      `yaml:"id"`
	Name   string   `yaml:"name"`
	Layers []string `yaml:"layers"`
}

// ShapeDoc describes one shape. Attrs holds any extra attributes, which are
// kept verbatim in the shape's snapshot.
type ShapeDoc struct {
	UUID   string         `yaml:"uuid"`
	Type   string         `yaml:"type"`
	X      float64        `yaml:"x"`
	Y      float64        `yaml:"y"`
	Width  float64        `yaml:"width,omitempty"`
	Height float64        `yaml:"height,omitempty"`
	Radius float64        `yaml:"radius,omitempty"`
	Angle  float64        `yaml:"angle,omitempty"`
	Floor  int            `yaml:"floor"`
	Layer  string         `yaml:"layer"`
	Attrs  map[string]any `yaml:"attrs,omitempty"`
}

// DecodeDocument reads a YAML scene document.
func DecodeDocument(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return &doc, nil
		}
		return nil, fmt.Errorf("decoding scene: %w", err)
	}
	return &doc, nil
}

// Snapshot converts the shape description into a snapshot. A missing uuid is
// filled by newID.
func (d ShapeDoc) Snapshot(newID func() string) (operation.Snapshot, error) {
	doc := make(map[string]any, len(d.Attrs)+10)
	for k, v := range d.Attrs {
		doc[k] = v
	}
	id := d.UUID
	if id == "" {
		id = newID()
	}
	doc["uuid"] = id
	doc["type_"] = d.Type
	doc["x"] = d.X
	doc["y"] = d.Y
	doc["angle"] = d.Angle
	doc["floor"] = d.Floor
	doc["layer"] = d.Layer
	switch d.Type {
	case TypeCircle:
		doc["radius"] = d.Radius
	default:
		doc["width"] = d.Width
		doc["height"] = d.Height
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return operation.Snapshot{}, fmt.Errorf("encoding shape %s: %w", id, err)
	}
	return operation.NewSnapshot(data)
}

// Load replaces the scene contents with doc. Nothing is emitted.
func (s *Scene) Load(ctx context.Context, doc *Document) error {
	s.Reset()
	for _, f := range doc.Floors {
		if _, err := s.AddFloor(f.ID, f.Name, f.Layers...); err != nil {
			return err
		}
	}
	for _, sd := range doc.Shapes {
		snap, err := sd.Snapshot(s.newID)
		if err != nil {
			return err
		}
		if _, err := s.Create(ctx, snap, SyncNone); err != nil {
			return fmt.Errorf("loading shape %s: %w", snap.ID(), err)
		}
	}
	return nil
}
