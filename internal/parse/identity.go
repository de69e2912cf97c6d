package parse

import "strings"

// MachineIdentity gathers the differently named keys producers use to refer
// to a machine.
type MachineIdentity struct {
	Name        string `json:"name"`
	MachineName string `json:"machine_name"`
	MachineID   string `json:"machine_id"`
	Machine     string `json:"machine"`
}

// Resolve returns the canonical machine name, preferring name, then
// machine_name, machine_id and machine. The result is trimmed; empty means
// no identity was supplied.
func (id MachineIdentity) Resolve() string {
	return MachineName(id.Name, id.MachineName, id.MachineID, id.Machine)
}

// MachineName returns the first non-blank candidate, trimmed.
func MachineName(candidates ...string) string {
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return ""
}
