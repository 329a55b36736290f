// Package simulator is an in-memory control plane that speaks the same
// HTTP API vmctl's client uses. It backs `vmctl simulate` and the
// end-to-end tests.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rileyhilliard/vmctl/internal/controlplane"
	"github.com/rileyhilliard/vmctl/internal/logger"
	"github.com/rileyhilliard/vmctl/internal/metrics"
)

const (
	defaultMemoryMB = 1024
	defaultCPUs     = 2
)

// Options configures a Server.
type Options struct {
	Logger  logger.Logger
	Metrics *metrics.Recorder

	// Seed makes the synthetic stats reproducible. Zero picks one from the clock.
	Seed uint64

	// NumericStrings sends stats values as JSON strings instead of numbers.
	NumericStrings bool
}

// Server is the simulated control plane.
type Server struct {
	store   *store
	log     logger.Logger
	metrics *metrics.Recorder
	strs    bool
	router  *gin.Engine
}

// response is the envelope every endpoint answers with.
type response struct {
	Status     string                 `json:"status,omitempty"`
	Message    string                 `json:"message,omitempty"`
	VMs        []controlplane.VMEntry `json:"vms,omitempty"`
	Stats      map[string]any         `json:"stats,omitempty"`
	StartedVMs []string               `json:"started_vms,omitempty"`
	StoppedVMs []string               `json:"stopped_vms,omitempty"`
	DeletedVMs []string               `json:"deleted_vms,omitempty"`
}

type createRequest struct {
	VMName     string `json:"vm_name"`
	BaseDisk   string `json:"base_disk"`
	ISOImage   string `json:"iso_image"`
	Memory     int    `json:"memory"`
	CPUs       int    `json:"cpus"`
	MACAddress string `json:"mac_address"`
}

type powerRequest struct {
	VMName   string `json:"vm_name"`
	BaseName string `json:"base_name"`
	Bulk     bool   `json:"bulk"`
}

// New creates a simulator with no VMs.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Noop()
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano())
	}

	s := &Server{
		store:   newStore(opts.Seed),
		log:     opts.Logger,
		metrics: opts.Metrics,
		strs:    opts.NumericStrings,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.CustomRecoveryWithWriter(logger.LineWriter{L: s.log}, s.recovered))
	router.Use(s.requestLogger())
	s.registerRoutes(router)
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Add inserts a VM directly, bypassing the API. Used to seed demos and tests.
func (s *Server) Add(name string, running bool) error {
	if _, err := s.store.create([]createRequest{{VMName: name}}); err != nil {
		return err
	}
	if running {
		s.store.setRunning(name, true)
	}
	return nil
}

// VMs returns a copy of the simulated machines in creation order.
func (s *Server) VMs() []VM {
	return s.store.list()
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("simulated control plane listening on %s with %d VMs", addr, len(s.store.names()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET(controlplane.PathListVMs, s.listVMs)
	router.GET(controlplane.PathVMStats+":name", s.vmStats)
	router.POST(controlplane.PathCreateVM, s.createVM)
	router.POST(controlplane.PathStartVM, s.power(true))
	router.POST(controlplane.PathStopVM, s.power(false))
	router.POST(controlplane.PathDeleteVM, s.deleteVM)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

func (s *Server) listVMs(c *gin.Context) {
	vms := s.store.list()
	entries := make([]controlplane.VMEntry, 0, len(vms))
	for _, vm := range vms {
		status := controlplane.PowerOff
		if vm.Running {
			status = controlplane.PowerOn
		}
		entries = append(entries, controlplane.VMEntry{Name: vm.Name, Status: status})
	}
	// vms is always present, even when empty
	c.JSON(http.StatusOK, gin.H{"status": controlplane.StatusSuccess, "vms": entries})
}

func (s *Server) vmStats(c *gin.Context) {
	name := c.Param("name")
	if _, ok := s.store.get(name); !ok {
		fail(c, http.StatusNotFound, fmt.Sprintf("VM %s not found", name))
		return
	}

	vm, ok := s.store.sample(name)
	if !ok {
		fail(c, http.StatusBadRequest, fmt.Sprintf("VM %s is not running", name))
		return
	}

	c.JSON(http.StatusOK, response{
		Status: controlplane.StatusSuccess,
		Stats: map[string]any{
			"vm_name":       vm.Name,
			"cpu_load":      s.number(round2(vm.cpu)),
			"memory_used":   s.number(round2(vm.memory)),
			"memory_max":    s.number(float64(vm.MemoryMB)),
			"net_stats_in":  s.number(round2(vm.netIn)),
			"net_stats_out": s.number(round2(vm.netOut)),
		},
	})
}

func (s *Server) number(v float64) any {
	if s.strs {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return v
}

// createVM accepts one object or an array of them. An array is created all
// or nothing.
func (s *Server) createVM(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable body")
		return
	}

	var specs []createRequest
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &specs)
	} else {
		var one createRequest
		err = json.Unmarshal(trimmed, &one)
		specs = []createRequest{one}
	}
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(specs) == 0 {
		fail(c, http.StatusBadRequest, "no VMs to create")
		return
	}

	names, err := s.store.create(specs)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	msg := fmt.Sprintf("VM %s created successfully.", names[0])
	if len(names) > 1 {
		msg = fmt.Sprintf("%d VMs created successfully: %s", len(names), strings.Join(names, ", "))
	}
	c.JSON(http.StatusOK, response{Status: controlplane.StatusSuccess, Message: msg})
}

// power handles start (on=true) and stop (on=false).
func (s *Server) power(on bool) gin.HandlerFunc {
	verb, done, already := "stop", "stopped", "already stopped"
	if on {
		verb, done, already = "start", "started", "already running"
	}

	return func(c *gin.Context) {
		var req powerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}

		if req.Bulk {
			prefix, ok := bulkPrefix(c, req)
			if !ok {
				return
			}
			var changed []string
			for _, name := range s.store.match(prefix, true) {
				if ok, _ := s.store.setRunning(name, on); ok {
					changed = append(changed, name)
				}
			}
			if changed == nil {
				changed = []string{}
			}
			resp := response{Status: controlplane.StatusSuccess}
			if on {
				resp.StartedVMs = changed
			} else {
				resp.StoppedVMs = changed
			}
			c.JSON(http.StatusOK, bulkJSON(resp))
			return
		}

		changed, found := s.store.setRunning(req.VMName, on)
		switch {
		case !found:
			fail(c, http.StatusNotFound, fmt.Sprintf("Failed to %s VM: VM %s not found", verb, req.VMName))
		case !changed:
			c.JSON(http.StatusOK, response{Status: controlplane.StatusInfo, Message: fmt.Sprintf("VM %s is %s.", req.VMName, already)})
		default:
			c.JSON(http.StatusOK, response{Status: controlplane.StatusSuccess, Message: fmt.Sprintf("VM %s %s successfully.", req.VMName, done)})
		}
	}
}

func (s *Server) deleteVM(c *gin.Context) {
	var req powerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Bulk {
		prefix, ok := bulkPrefix(c, req)
		if !ok {
			return
		}
		deleted := []string{}
		for _, name := range s.store.match(prefix, true) {
			if s.store.remove(name) {
				deleted = append(deleted, name)
			}
		}
		c.JSON(http.StatusOK, bulkJSON(response{Status: controlplane.StatusSuccess, DeletedVMs: deleted}))
		return
	}

	if !s.store.remove(req.VMName) {
		fail(c, http.StatusNotFound, fmt.Sprintf("VM %s not found", req.VMName))
		return
	}
	c.JSON(http.StatusOK, response{Status: controlplane.StatusSuccess, Message: fmt.Sprintf("VM %s deleted successfully.", req.VMName)})
}

// bulkPrefix rejects a bulk request without a base name, which would
// otherwise match every VM.
func bulkPrefix(c *gin.Context, req powerRequest) (string, bool) {
	prefix := strings.TrimSpace(req.BaseName)
	if prefix == "" {
		fail(c, http.StatusBadRequest, "base_name is required for bulk operations")
		return "", false
	}
	return prefix, true
}

// bulkJSON keeps an empty affected list in the body; omitempty on the
// response struct would drop it.
func bulkJSON(r response) gin.H {
	h := gin.H{"status": r.Status}
	switch {
	case r.StartedVMs != nil:
		h["started_vms"] = r.StartedVMs
	case r.StoppedVMs != nil:
		h["stopped_vms"] = r.StoppedVMs
	case r.DeletedVMs != nil:
		h["deleted_vms"] = r.DeletedVMs
	}
	return h
}

func fail(c *gin.Context, code int, message string) {
	c.JSON(code, response{Status: controlplane.StatusError, Message: message})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.SimRequest(c.Request.Method, path, status)
		s.log.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
	}
}

func (s *Server) recovered(c *gin.Context, err any) {
	s.log.Error("panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, response{Status: controlplane.StatusError, Message: "internal error"})
}
