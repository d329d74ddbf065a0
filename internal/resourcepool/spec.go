package resourcepool

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// specInstance is one long-form resource entry in a spec file.
type specInstance struct {
	ID    string `yaml:"id"`
	Slots int    `yaml:"slots"`
}

// fileSpec is the top-level shape of a resource-pool spec file:
//
//	resource_pool:
//	  resources:
//	    cpus: [{id: "0", slots: 1}, ...]
//	    gpus: 2                 # shorthand: N unit-slot instances
type fileSpec struct {
	ResourcePool struct {
		Resources map[string]yaml.Node `yaml:"resources"`
	} `yaml:"resource_pool"`
}

// LoadSpecFile parses a YAML (or JSON, a subset of YAML) resource-pool
// spec file and returns a populated Pool. Shorthand entries (a bare
// integer instead of a list of {id,slots}) expand to that many unit-slot
// instances, ids "0".."N-1".
func LoadSpecFile(path string) (*Pool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resourcepool: read spec file: %w", err)
	}
	return LoadSpec(raw)
}

// LoadSpec parses spec bytes already read into memory; LoadSpecFile
// calls it after reading the file.
func LoadSpec(raw []byte) (*Pool, error) {
	var fs fileSpec
	if err := yaml.Unmarshal(raw, &fs); err != nil {
		return nil, fmt.Errorf("resourcepool: parse spec: %w", err)
	}
	if fs.ResourcePool.Resources == nil {
		return nil, fmt.Errorf("resourcepool: spec missing \"resources\" key")
	}

	pool := New()
	for typ, node := range fs.ResourcePool.Resources {
		if node.Kind == yaml.ScalarNode {
			var count int
			if err := node.Decode(&count); err != nil {
				return nil, fmt.Errorf("resourcepool: %s: shorthand must be an integer count: %w", typ, err)
			}
			pool.Populate(typ, count)
			continue
		}
		var insts []specInstance
		if err := node.Decode(&insts); err != nil {
			return nil, fmt.Errorf("resourcepool: %s: %w", typ, err)
		}
		for _, si := range insts {
			slots := si.Slots
			if slots == 0 {
				slots = 1
			}
			pool.Fill(typ, si.ID, slots)
		}
	}
	return pool, nil
}
