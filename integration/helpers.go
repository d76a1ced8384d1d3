//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"
)

const samplePlaybook = `- name: Apply security patches
  hosts: all
  become: true
  tasks:
    - name: Update apt cache
      apt:
        update_cache: true
`

const sampleInventory = `[[target]]
id = "web-01"
host = "web-01.internal"
groups = ["web"]

[[target]]
id = "web-02"
host = "web-02.internal"
port = 2222
ssh_user = "deploy"
groups = ["web"]

[[target]]
id = "db-01"
host = "db-01.internal"
groups = ["db"]
`

// WriteFixtures lays out a playbook directory and inventory file in a
// temp directory and returns their paths
func WriteFixtures(t *testing.T) (playbookDir, inventoryPath string) {
	t.Helper()
	dir := t.TempDir()
	playbookDir = filepath.Join(dir, "playbooks")
	if err := os.Mkdir(playbookDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(playbookDir, "patch-kernel.yml"), []byte(samplePlaybook), 0o644); err != nil {
		t.Fatal(err)
	}
	inventoryPath = filepath.Join(dir, "inventory.toml")
	if err := os.WriteFile(inventoryPath, []byte(sampleInventory), 0o644); err != nil {
		t.Fatal(err)
	}
	return playbookDir, inventoryPath
}

// FakeAnsibleBinary writes a shell script standing in for ansible-playbook
// and returns its path
func FakeAnsibleBinary(t *testing.T, script string) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "fake-ansible")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin
}
