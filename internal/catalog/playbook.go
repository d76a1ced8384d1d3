package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Playbook is one runnable automation procedure. Its reference is the
// file name without extension, unique within the playbook directory.
type Playbook struct {
	Ref         string            `json:"ref"`
	Path        string            `json:"path"`
	Description string            `json:"description"`
	Hosts       string            `json:"hosts"`
	Vars        map[string]string `json:"vars,omitempty"`
}

// play mirrors the fields we read from the first play of a playbook file
type play struct {
	Name  string         `yaml:"name"`
	Hosts string         `yaml:"hosts"`
	Vars  map[string]any `yaml:"vars"`
}

// loadPlaybook reads the first play's name and hosts pattern for display.
// A file that does not parse as a play list is still listed, just without
// a description.
func loadPlaybook(path string) (Playbook, error) {
	pb := Playbook{
		Ref:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path: path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Playbook{}, err
	}

	var plays []play
	if err := yaml.Unmarshal(data, &plays); err == nil && len(plays) > 0 {
		pb.Description = plays[0].Name
		pb.Hosts = plays[0].Hosts
		if len(plays[0].Vars) > 0 {
			pb.Vars = make(map[string]string, len(plays[0].Vars))
			for k, v := range plays[0].Vars {
				pb.Vars[k] = fmt.Sprint(v)
			}
		}
	}

	return pb, nil
}

// scanPlaybooks lists all *.yml and *.yaml files directly under dir
func scanPlaybooks(dir string) (map[string]Playbook, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Playbook{}, nil
		}
		return nil, fmt.Errorf("reading playbook dir: %w", err)
	}

	playbooks := make(map[string]Playbook)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		pb, err := loadPlaybook(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("playbook %s: %w", entry.Name(), err)
		}
		if existing, dup := playbooks[pb.Ref]; dup {
			return nil, fmt.Errorf("playbook %s shadows %s", pb.Path, existing.Path)
		}
		playbooks[pb.Ref] = pb
	}
	return playbooks, nil
}

func sortedRefs(playbooks map[string]Playbook) []string {
	refs := make([]string, 0, len(playbooks))
	for ref := range playbooks {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
