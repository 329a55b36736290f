package controlplane

import "encoding/json"

// Status values carried in every control plane response body.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusInfo    = "info"
)

// Power states reported by /list_vms.
const (
	PowerOn  = "on"
	PowerOff = "off"
)

// Endpoint paths.
const (
	PathListVMs  = "/list_vms"
	PathVMStats  = "/vm_stats/"
	PathCreateVM = "/create_vm"
	PathStartVM  = "/start_vm"
	PathStopVM   = "/stop_vm"
	PathDeleteVM = "/delete_vm"
)

// VMEntry is one row of the /list_vms response.
type VMEntry struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ListResponse is the body of GET /list_vms.
type ListResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	VMs     []VMEntry `json:"vms"`
}

// VMStats is the stats object of GET /vm_stats/{name}. Numeric fields are
// kept raw because the control plane may send them as JSON numbers or as
// numeric strings; the telemetry package does the parsing.
type VMStats struct {
	VMName     string          `json:"vm_name"`
	CPULoad    json.RawMessage `json:"cpu_load,omitempty"`
	MemoryUsed json.RawMessage `json:"memory_used,omitempty"`
	MemoryMax  json.RawMessage `json:"memory_max,omitempty"`
	NetIn      json.RawMessage `json:"net_stats_in,omitempty"`
	NetOut     json.RawMessage `json:"net_stats_out,omitempty"`
}

// StatsResponse is the body of GET /vm_stats/{name}.
type StatsResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Stats   *VMStats `json:"stats,omitempty"`
}

// ActionResponse is the body returned by the four lifecycle endpoints.
// Bulk start/stop/delete fill exactly one of the *VMs lists.
type ActionResponse struct {
	Status     string   `json:"status,omitempty"`
	Message    string   `json:"message,omitempty"`
	StartedVMs []string `json:"started_vms,omitempty"`
	StoppedVMs []string `json:"stopped_vms,omitempty"`
	DeletedVMs []string `json:"deleted_vms,omitempty"`

	// HTTPStatus is the response code, not part of the body.
	HTTPStatus int `json:"-"`
}

// Affected returns whichever of the started/stopped/deleted lists is set.
func (r *ActionResponse) Affected() []string {
	switch {
	case r.StartedVMs != nil:
		return r.StartedVMs
	case r.StoppedVMs != nil:
		return r.StoppedVMs
	case r.DeletedVMs != nil:
		return r.DeletedVMs
	}
	return nil
}
