package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/containerd/errdefs/pkg/errhttp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/catalog"
	"github.com/plc-datalink/rfc1006/internal/lifecycle"
	"github.com/plc-datalink/rfc1006/internal/models"
	"github.com/plc-datalink/rfc1006/internal/store"
)

// Machines is the operation layer behind the API.
type Machines interface {
	CreateProfile(ctx context.Context, p models.MachineProfile) (store.Document, error)
	GetProfile(ctx context.Context, machine string) (store.Document, error)
	ListProfiles(ctx context.Context) ([]store.Document, error)
	UpdateProfile(ctx context.Context, p models.MachineProfile) (store.Document, error)
	RemoveProfile(ctx context.Context, machine string) error
	Start(ctx context.Context, machine string) (lifecycle.StartResult, error)
	Stop(ctx context.Context, machine string) (lifecycle.StopResult, error)
	RemoveMachine(ctx context.Context, machine string) error
	State(machine string) (models.ConnectionState, error)
	Active(ctx context.Context) ([]models.ProcessHandle, error)
	Configured() ([]string, error)
	Standby() ([]string, error)
	Overview(ctx context.Context) (catalog.Snapshot, error)
}

// Handler serves the machine API.
type Handler struct {
	machines Machines
	started  time.Time
	logger   *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(m Machines, logger *zap.Logger) *Handler {
	return &Handler{machines: m, started: time.Now(), logger: logger}
}

// fail writes err with the status code of its class.
func (h *Handler) fail(c *gin.Context, err error) {
	status := errhttp.ToHTTP(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Operation failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("kind", apperr.Kind(err)),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": apperr.Kind(err)})
}

// machineName reads the required machine_name query parameter.
func machineName(c *gin.Context) (string, bool) {
	name := c.Query("machine_name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Machine name is required"})
		return "", false
	}
	return name, true
}

// Health reports liveness and daemon uptime.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// ReadAllConfigs lists every stored profile in _all_docs form.
func (h *Handler) ReadAllConfigs(c *gin.Context) {
	docs, err := h.machines.ListProfiles(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	rows := make([]allDocsRow, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, allDocsRow{ID: d.ID, Key: d.ID, Value: allDocsValue{Rev: d.Rev}, Doc: d})
	}
	c.JSON(http.StatusOK, gin.H{"total_rows": len(rows), "offset": 0, "rows": rows})
}

// allDocsRow is one row of a CouchDB _all_docs?include_docs=true listing,
// the shape existing clients read profiles from.
type allDocsRow struct {
	ID    string         `json:"id"`
	Key   string         `json:"key"`
	Value allDocsValue   `json:"value"`
	Doc   store.Document `json:"doc"`
}

type allDocsValue struct {
	Rev string `json:"rev"`
}

// ReadOneConfig returns the stored profile of machine_name.
func (h *Handler) ReadOneConfig(c *gin.Context) {
	name, ok := machineName(c)
	if !ok {
		return
	}
	doc, err := h.machines.GetProfile(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// CreateConfig stores a new profile.
func (h *Handler) CreateConfig(c *gin.Context) {
	p, err := readProfile(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	doc, err := h.machines.CreateProfile(c.Request.Context(), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// UpdateConfig replaces an existing profile at its current revision.
func (h *Handler) UpdateConfig(c *gin.Context) {
	p, err := readProfile(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	doc, err := h.machines.UpdateProfile(c.Request.Context(), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// RemoveConfig deletes a profile and its log unless the machine is running.
func (h *Handler) RemoveConfig(c *gin.Context) {
	name, ok := machineName(c)
	if !ok {
		return
	}
	if err := h.machines.RemoveProfile(c.Request.Context(), name); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Configuration for %s has been successfully removed.", name)})
}

// StartMachine renders the machine configuration and (re)starts its collector.
func (h *Handler) StartMachine(c *gin.Context) {
	name, ok := machineName(c)
	if !ok {
		return
	}
	res, err := h.machines.Start(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	msg := "Collector started successfully"
	if res.Replaced {
		msg = "Collector restarted successfully"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "result": res})
}

// StopMachine stops the collector of machine_name.
func (h *Handler) StopMachine(c *gin.Context) {
	name, ok := machineName(c)
	if !ok {
		return
	}
	res, err := h.machines.Stop(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Outcome == lifecycle.NothingToStop {
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("No active collector found for %s.", name),
			"outcome": res.Outcome.String(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Collector stopped successfully",
		"outcome": res.Outcome.String(),
		"process": res.PID,
	})
}

// OnlineMachines lists machines with a running collector.
func (h *Handler) OnlineMachines(c *gin.Context) {
	handles, err := h.machines.Active(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(handles) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "No machines online."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Active machines", "machines": handles})
}

// MachineState returns the connection state inferred from the collector log.
func (h *Handler) MachineState(c *gin.Context) {
	name, ok := machineName(c)
	if !ok {
		return
	}
	st, err := h.machines.State(name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Machine state", "State": st})
}

// ConfiguredMachines lists machines with a configuration file.
func (h *Handler) ConfiguredMachines(c *gin.Context) {
	names, err := h.machines.Configured()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Configured machines", "machines": names})
}

// StandbyMachines lists machines with a collector log.
func (h *Handler) StandbyMachines(c *gin.Context) {
	names, err := h.machines.Standby()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Standby machines", "machines": names})
}

// RemoveMachine deletes the log of a machine that is not running.
func (h *Handler) RemoveMachine(c *gin.Context) {
	name, ok := machineName(c)
	if !ok {
		return
	}
	if err := h.machines.RemoveMachine(c.Request.Context(), name); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Machine: %s has been successfully removed.", name)})
}

// Overview returns the catalog snapshot with its divergence sets.
func (h *Handler) Overview(c *gin.Context) {
	snap, err := h.machines.Overview(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
