// Package definition reads VSS definition files as produced by vss-tools and
// turns them into node trees and broker metadata.
package definition

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/vss"
	"gopkg.in/yaml.v3"
)

const typeBranch = "branch"

// Element is one node of a definition.
type Element struct {
	Path        string   `yaml:"-" json:"-"`
	UUID        string   `yaml:"uuid" json:"uuid"`
	Type        string   `yaml:"type" json:"type"`
	DataType    string   `yaml:"datatype" json:"datatype"`
	Description string   `yaml:"description" json:"description"`
	Comment     string   `yaml:"comment" json:"comment"`
	Unit        string   `yaml:"unit" json:"unit"`
	Min         *float64 `yaml:"min" json:"min"`
	Max         *float64 `yaml:"max" json:"max"`
	Default     any      `yaml:"default" json:"default"`
}

// IsBranch reports whether the element groups other elements.
func (e Element) IsBranch() bool {
	return strings.EqualFold(e.Type, typeBranch)
}

// Metadata converts the element to broker metadata.
func (e Element) Metadata() broker.Metadata {
	return broker.Metadata{
		DataType:    broker.ParseDataType(e.DataType),
		EntryType:   broker.ParseEntryType(e.Type),
		Description: e.Description,
		Comment:     e.Comment,
		Unit:        e.Unit,
	}
}

// Definition is a parsed VSS definition, ordered by path.
type Definition struct {
	Elements []Element
}

// LoadFile parses path, choosing the format by extension (.yaml/.yml or .json).
func LoadFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("definition: open %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(f)
	case ".yaml", ".yml", ".vspec":
		return ParseYAML(f)
	default:
		return nil, fmt.Errorf("definition: unsupported file type %q", filepath.Ext(path))
	}
}

// ParseYAML reads the flat format: one top level key per path.
//
//	Vehicle.Speed:
//	  datatype: float
//	  type: sensor
//	  unit: km/h
func ParseYAML(r io.Reader) (*Definition, error) {
	var raw map[string]Element
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return &Definition{}, nil
		}
		return nil, fmt.Errorf("definition: decode yaml: %w", err)
	}

	def := &Definition{Elements: make([]Element, 0, len(raw))}
	for path, element := range raw {
		element.Path = strings.TrimSpace(path)
		if element.Path == "" {
			continue
		}
		def.Elements = append(def.Elements, element)
	}
	def.sort()
	return def, nil
}

type jsonElement struct {
	Element
	Children map[string]jsonElement `json:"children"`
}

// ParseJSON reads the nested format where branches carry a "children" map.
func ParseJSON(r io.Reader) (*Definition, error) {
	var raw map[string]jsonElement
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("definition: decode json: %w", err)
	}

	def := &Definition{}
	var walk func(prefix string, nodes map[string]jsonElement)
	walk = func(prefix string, nodes map[string]jsonElement) {
		for name, node := range nodes {
			path := name
			if prefix != "" {
				path = prefix + "." + name
			}
			element := node.Element
			element.Path = path
			def.Elements = append(def.Elements, element)
			walk(path, node.Children)
		}
	}
	walk("", raw)
	def.sort()
	return def, nil
}

func (d *Definition) sort() {
	sort.Slice(d.Elements, func(i, j int) bool {
		return d.Elements[i].Path < d.Elements[j].Path
	})
}

// Lookup returns the element at path.
func (d *Definition) Lookup(path string) (Element, bool) {
	idx := sort.Search(len(d.Elements), func(i int) bool {
		return d.Elements[i].Path >= path
	})
	if idx < len(d.Elements) && d.Elements[idx].Path == path {
		return d.Elements[idx], true
	}
	return Element{}, false
}

// Metadata returns the metadata of every leaf, keyed by path.
func (d *Definition) Metadata() map[string]broker.Metadata {
	out := make(map[string]broker.Metadata)
	for _, element := range d.Elements {
		if element.IsBranch() {
			continue
		}
		out[element.Path] = element.Metadata()
	}
	return out
}

// Tree builds the subtree rooted at root. Missing intermediate branches are
// created; leaves become DynamicLeaf nodes typed by their datatype.
func (d *Definition) Tree(root string) (vss.Node, error) {
	branches := make(map[string]*vss.Branch)
	var top vss.Node

	var branchFor func(path string) *vss.Branch
	branchFor = func(path string) *vss.Branch {
		if b, ok := branches[path]; ok {
			return b
		}
		b := vss.NewBranch(path)
		if element, ok := d.Lookup(path); ok {
			b.Description = element.Description
		}
		branches[path] = b
		if path != root {
			branchFor(vss.ParentPath(path)).Add(b)
		}
		return b
	}

	for _, element := range d.Elements {
		if element.Path != root && !strings.HasPrefix(element.Path, root+".") {
			continue
		}
		if element.IsBranch() {
			b := branchFor(element.Path)
			if element.Path == root {
				top = b
			}
			continue
		}

		leaf := vss.NewDynamicLeaf(element.Path, broker.ParseDataType(element.DataType))
		leaf.SetMetadata(element.Metadata())
		if _, isList := element.Default.([]any); element.Default != nil && !isList {
			if err := leaf.SetText(fmt.Sprint(element.Default)); err != nil {
				return nil, fmt.Errorf("definition: default of %s: %w", element.Path, err)
			}
		}
		if element.Path == root {
			top = leaf
			continue
		}
		branchFor(vss.ParentPath(element.Path)).Add(leaf)
	}

	if top == nil {
		if b, ok := branches[root]; ok {
			top = b
		}
	}
	if top == nil {
		return nil, fmt.Errorf("definition: %s not found", root)
	}
	return top, nil
}
