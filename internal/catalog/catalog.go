// Package catalog resolves the opaque references in a submit request:
// procedure references against a directory of Ansible playbooks, and
// target ids against a TOML host inventory. Both sources can be reloaded
// at runtime, with an optional file watcher triggering reloads.
package catalog

import (
	"fmt"
	"log"
	"sync"

	"github.com/opsforge/fleet-orchestrator/internal/domain"
)

// Catalog is the loaded view of the playbook directory and the inventory.
// Lookups are safe for concurrent use; Reload swaps the view atomically.
type Catalog struct {
	playbookDir   string
	inventoryPath string

	mu        sync.RWMutex
	playbooks map[string]Playbook
	targets   map[string]InventoryEntry
}

// Load builds a catalog from the playbook directory and inventory file.
// A missing directory or inventory yields an empty catalog, not an error.
func Load(playbookDir, inventoryPath string) (*Catalog, error) {
	c := &Catalog{
		playbookDir:   playbookDir,
		inventoryPath: inventoryPath,
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads both sources. On error the previous view stays in place.
func (c *Catalog) Reload() error {
	playbooks, err := scanPlaybooks(c.playbookDir)
	if err != nil {
		return err
	}

	inv, err := LoadInventory(c.inventoryPath)
	if err != nil {
		return fmt.Errorf("loading inventory: %w", err)
	}
	targets := make(map[string]InventoryEntry, len(inv.Targets))
	for _, entry := range inv.Targets {
		targets[entry.ID] = entry
	}

	c.mu.Lock()
	c.playbooks = playbooks
	c.targets = targets
	c.mu.Unlock()

	log.Printf("catalog: %d playbooks, %d targets", len(playbooks), len(targets))
	return nil
}

// Resolve returns the playbook for a procedure reference
func (c *Catalog) Resolve(procedureRef string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pb, ok := c.playbooks[procedureRef]
	if !ok {
		return nil, fmt.Errorf("no playbook named %q", procedureRef)
	}
	return pb, nil
}

// ResolveTarget returns the host configuration for a target id
func (c *Catalog) ResolveTarget(targetID string) (domain.Target, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.targets[targetID]
	if !ok {
		return domain.Target{}, fmt.Errorf("no inventory entry %q", targetID)
	}
	return entry.Target(), nil
}

// Playbooks returns all playbooks sorted by reference
func (c *Catalog) Playbooks() []Playbook {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Playbook, 0, len(c.playbooks))
	for _, ref := range sortedRefs(c.playbooks) {
		out = append(out, c.playbooks[ref])
	}
	return out
}

// Targets returns all inventory entries, unordered
func (c *Catalog) Targets() []InventoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]InventoryEntry, 0, len(c.targets))
	for _, entry := range c.targets {
		out = append(out, entry)
	}
	return out
}

// TargetsInGroup returns the ids of all targets carrying the group label
func (c *Catalog) TargetsInGroup(group string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for id, entry := range c.targets {
		for _, g := range entry.Groups {
			if g == group {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}
