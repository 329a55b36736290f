package simulator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// VM is one simulated machine.
type VM struct {
	Name     string
	UUID     string
	Running  bool
	MemoryMB int
	CPUs     int
	MAC      string
	BaseDisk string
	ISOImage string

	cpu    float64
	memory float64
	netIn  float64
	netOut float64
}

// store is the in-memory VM table.
type store struct {
	mu  sync.Mutex
	vms map[string]*VM
	seq []string
	rng *rand.Rand
}

func newStore(seed uint64) *store {
	return &store{
		vms: make(map[string]*VM),
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// errExists is returned when a create targets a name that is taken.
type errExists struct{ name string }

func (e errExists) Error() string { return fmt.Sprintf("VM %s already exists.", e.name) }

// create adds every spec or none of them.
func (s *store) create(specs []createRequest) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.VMName)
		if name == "" {
			return nil, fmt.Errorf("vm_name is required")
		}
		if _, ok := s.vms[name]; ok || seen[name] {
			return nil, errExists{name: name}
		}
		seen[name] = true
	}

	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		vm := &VM{
			Name:     strings.TrimSpace(spec.VMName),
			UUID:     uuid.NewString(),
			MemoryMB: spec.Memory,
			CPUs:     spec.CPUs,
			MAC:      spec.MACAddress,
			BaseDisk: spec.BaseDisk,
			ISOImage: spec.ISOImage,
		}
		if vm.MemoryMB <= 0 {
			vm.MemoryMB = defaultMemoryMB
		}
		if vm.CPUs <= 0 {
			vm.CPUs = defaultCPUs
		}
		s.vms[vm.Name] = vm
		s.seq = append(s.seq, vm.Name)
		names = append(names, vm.Name)
	}
	return names, nil
}

// list returns copies in creation order.
func (s *store) list() []VM {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]VM, 0, len(s.seq))
	for _, name := range s.seq {
		out = append(out, *s.vms[name])
	}
	return out
}

func (s *store) get(name string) (VM, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[name]
	if !ok {
		return VM{}, false
	}
	return *vm, true
}

// match returns the names a power request applies to, in creation order.
// An empty bulk prefix matches nothing.
func (s *store) match(name string, bulk bool) []string {
	if bulk && name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, n := range s.seq {
		if (bulk && strings.HasPrefix(n, name)) || (!bulk && n == name) {
			out = append(out, n)
		}
	}
	return out
}

// setRunning flips the power state and reports whether it changed.
func (s *store) setRunning(name string, running bool) (changed, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[name]
	if !ok {
		return false, false
	}
	if vm.Running == running {
		return false, true
	}
	vm.Running = running
	if running {
		vm.memory = float64(vm.MemoryMB) * 0.3
	} else {
		vm.cpu, vm.memory = 0, 0
	}
	return true, true
}

func (s *store) remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vms[name]; !ok {
		return false
	}
	delete(s.vms, name)
	for i, n := range s.seq {
		if n == name {
			s.seq = append(s.seq[:i], s.seq[i+1:]...)
			break
		}
	}
	return true
}

// sample advances the VM's random walk and returns the new reading.
// ok is false when the VM is unknown or stopped.
func (s *store) sample(name string) (VM, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[name]
	if !ok || !vm.Running {
		return VM{}, false
	}

	vm.cpu = clamp(vm.cpu+s.rng.NormFloat64()*8, 0, 100)
	maxMem := float64(vm.MemoryMB)
	vm.memory = clamp(vm.memory+s.rng.NormFloat64()*maxMem*0.03, maxMem*0.1, maxMem*0.95)
	vm.netIn += s.rng.Float64() * 4096
	vm.netOut += s.rng.Float64() * 2048
	return *vm, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// names returns every VM name, sorted, for log lines.
func (s *store) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.seq...)
	sort.Strings(out)
	return out
}
