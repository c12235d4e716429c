package libdevnet

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// NodeDefinition describes a single node in the devnet inventory file.
type NodeDefinition struct {
	Role  string            `yaml:"role"`
	Image string            `yaml:"image"`
	Env   map[string]string `yaml:"env,omitempty"`
	// Port is the TCP port polled to decide the node is up.
	Port uint16 `yaml:"port,omitempty"`
}

// Inventory is the parsed devnet.yaml file. It names the node images per role
// and the chain parameters shared by genesis generation and the gateway.
type Inventory struct {
	L1ChainID     uint64            `yaml:"l1ChainId"`
	L2ChainID     uint64            `yaml:"l2ChainId"`
	CliquePeriod  uint64            `yaml:"cliquePeriod,omitempty"`
	JWTSecret     string            `yaml:"jwtSecret,omitempty"`
	Prefund       map[string]string `yaml:"prefund,omitempty"` // address -> wei balance
	Nodes         []NodeDefinition  `yaml:"nodes"`
	RollupAddress string            `yaml:"rollupAddress,omitempty"`
}

// HasRole returns true if the inventory defines a node for the given role.
func (inv Inventory) HasRole(role string) bool {
	for _, n := range inv.Nodes {
		if n.Role == role {
			return true
		}
	}
	return false
}

// Node returns the definition for the given role.
func (inv Inventory) Node(role string) (NodeDefinition, bool) {
	for _, n := range inv.Nodes {
		if n.Role == role {
			return n, true
		}
	}
	return NodeDefinition{}, false
}

// AddNode ensures the given node definition is known to the inventory.
// This method exists for unit testing purposes only.
func (inv *Inventory) AddNode(def NodeDefinition) {
	inv.Nodes = append(inv.Nodes, def)
}

// MatchRoles returns the roles matching the given regular expression.
func (inv *Inventory) MatchRoles(expr string) ([]string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, n := range inv.Nodes {
		if re.MatchString(n.Role) {
			result = append(result, n.Role)
		}
	}
	sort.Strings(result)
	return result, nil
}

// validate checks the inventory for the fields every devnet needs.
func (inv *Inventory) validate() error {
	if inv.L1ChainID == 0 {
		return fmt.Errorf("missing l1ChainId")
	}
	if inv.L2ChainID == 0 {
		return fmt.Errorf("missing l2ChainId")
	}
	if inv.L1ChainID == inv.L2ChainID {
		return fmt.Errorf("l1ChainId and l2ChainId must differ")
	}
	seen := make(map[string]bool)
	for _, n := range inv.Nodes {
		if n.Role == "" {
			return fmt.Errorf("node definition without role")
		}
		if n.Image == "" {
			return fmt.Errorf("node %q has no image", n.Role)
		}
		if seen[n.Role] {
			return fmt.Errorf("duplicate node role %q", n.Role)
		}
		seen[n.Role] = true
	}
	return nil
}

// LoadInventory reads and validates the devnet definition file.
func LoadInventory(file string) (Inventory, error) {
	var inv Inventory
	data, err := os.ReadFile(file)
	if err != nil {
		return inv, err
	}
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return inv, fmt.Errorf("can't parse %s: %v", file, err)
	}
	return inv, inv.validate()
}
