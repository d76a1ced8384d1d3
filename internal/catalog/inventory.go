package catalog

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/opsforge/fleet-orchestrator/internal/domain"
)

// InventoryEntry describes one managed host in the TOML inventory
type InventoryEntry struct {
	ID      string   `toml:"id" json:"id"`
	Host    string   `toml:"host" json:"host"`
	Port    int      `toml:"port" json:"port"`
	SSHUser string   `toml:"ssh_user" json:"ssh_user"`
	Groups  []string `toml:"groups" json:"groups,omitempty"`
}

// Inventory holds all target configurations
type Inventory struct {
	Targets []InventoryEntry `toml:"target"`
}

// Validate checks if the entry is valid
func (e *InventoryEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("target id is required")
	}
	if e.Host == "" {
		return fmt.Errorf("target host is required")
	}
	if e.Port == 0 {
		e.Port = 22 // Default
	}
	if e.SSHUser == "" {
		e.SSHUser = "root" // Default
	}
	return nil
}

// Target converts the entry to its domain form
func (e *InventoryEntry) Target() domain.Target {
	return domain.Target{
		ID:      e.ID,
		Host:    e.Host,
		Port:    e.Port,
		SSHUser: e.SSHUser,
	}
}

// LoadInventory loads the target inventory from a TOML file
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Inventory{}, nil
		}
		return nil, err
	}

	var inv Inventory
	if err := toml.Unmarshal(data, &inv); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(inv.Targets))
	for i := range inv.Targets {
		if err := inv.Targets[i].Validate(); err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
		if seen[inv.Targets[i].ID] {
			return nil, fmt.Errorf("target %d: duplicate id %s", i, inv.Targets[i].ID)
		}
		seen[inv.Targets[i].ID] = true
	}

	return &inv, nil
}
