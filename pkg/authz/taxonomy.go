package authz

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openfortress/gatehouse/pkg/roles"
)

// Taxonomy maps fine-grained resource types onto the coarser buckets
// role templates grant permissions against. A type with no entry
// resolves to itself.
type Taxonomy struct {
	buckets map[roles.ResourceType]roles.ResourceType
}

// DefaultTaxonomy returns the shipped mapping: tables, columns and
// views fall under the database bucket, procedures and functions under
// the query bucket.
func DefaultTaxonomy() *Taxonomy {
	return &Taxonomy{buckets: map[roles.ResourceType]roles.ResourceType{
		roles.ResourceTable:     roles.ResourceDatabase,
		roles.ResourceColumn:    roles.ResourceDatabase,
		roles.ResourceView:      roles.ResourceDatabase,
		roles.ResourceProcedure: roles.ResourceQuery,
		roles.ResourceFunction:  roles.ResourceQuery,
	}}
}

type taxonomyFile struct {
	Buckets map[string]string `yaml:"buckets"`
}

// LoadTaxonomy reads a bucket mapping from a YAML file:
//
//	buckets:
//	  table: database
//	  procedure: query
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy decodes a YAML bucket mapping.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var file taxonomyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}

	buckets := make(map[roles.ResourceType]roles.ResourceType, len(file.Buckets))
	for from, to := range file.Buckets {
		buckets[roles.ResourceType(from)] = roles.ResourceType(to)
	}
	return &Taxonomy{buckets: buckets}, nil
}

// Bucket resolves a resource type to its permission bucket.
func (t *Taxonomy) Bucket(resourceType roles.ResourceType) roles.ResourceType {
	if bucket, ok := t.buckets[resourceType]; ok {
		return bucket
	}
	return resourceType
}
