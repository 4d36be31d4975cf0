// Package machines is the operation layer used by the HTTP API and the CLI.
// It joins the profile store with the collector lifecycle, holds a lock per
// machine around every mutating operation and enforces the removal guard: a
// machine's profile or log may only be deleted while no collector runs for it.
package machines

import (
	"context"

	"github.com/containerd/errdefs"
	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/apperr"
	"github.com/plc-datalink/rfc1006/internal/catalog"
	"github.com/plc-datalink/rfc1006/internal/lifecycle"
	"github.com/plc-datalink/rfc1006/internal/logstate"
	"github.com/plc-datalink/rfc1006/internal/models"
	"github.com/plc-datalink/rfc1006/internal/store"
)

// Service implements the machine operations.
type Service struct {
	store   store.Store
	ctl     *lifecycle.Controller
	catalog *catalog.Catalog
	state   *logstate.Inferrer
	locks   *keyedMutex
	logger  *zap.Logger
}

// New creates a Service.
func New(st store.Store, ctl *lifecycle.Controller, cat *catalog.Catalog, state *logstate.Inferrer, logger *zap.Logger) *Service {
	return &Service{
		store:   st,
		ctl:     ctl,
		catalog: cat,
		state:   state,
		locks:   newKeyedMutex(),
		logger:  logger.Named("machines"),
	}
}

// CreateProfile stores a new profile.
func (s *Service) CreateProfile(ctx context.Context, p models.MachineProfile) (store.Document, error) {
	if err := p.Validate(); err != nil {
		return store.Document{}, err
	}
	defer s.locks.Lock(p.Name())()

	doc, err := s.store.Create(ctx, p)
	if err != nil {
		if errdefs.IsConflict(err) {
			return store.Document{}, apperr.Conflict("configuration already exists for %s", p.Name())
		}
		return store.Document{}, err
	}
	s.logger.Info("Profile created", zap.String("machine", p.Name()), zap.String("rev", doc.Rev))
	return doc, nil
}

// GetProfile returns the stored profile of machine.
func (s *Service) GetProfile(ctx context.Context, machine string) (store.Document, error) {
	if err := models.ValidateMachineName(machine); err != nil {
		return store.Document{}, err
	}
	doc, err := s.store.Get(ctx, machine)
	if errdefs.IsNotFound(err) {
		return store.Document{}, apperr.NotFound("machine %s does not exist", machine)
	}
	return doc, err
}

// ListProfiles returns all stored profiles.
func (s *Service) ListProfiles(ctx context.Context) ([]store.Document, error) {
	return s.store.List(ctx)
}

// UpdateProfile replaces the stored profile with p at the current revision.
// A running collector keeps its configuration until the machine is started
// again.
func (s *Service) UpdateProfile(ctx context.Context, p models.MachineProfile) (store.Document, error) {
	if err := p.Validate(); err != nil {
		return store.Document{}, err
	}
	defer s.locks.Lock(p.Name())()

	cur, err := s.store.Get(ctx, p.Name())
	if errdefs.IsNotFound(err) {
		return store.Document{}, apperr.NotFound("configuration for %s does not exist, cannot update", p.Name())
	}
	if err != nil {
		return store.Document{}, err
	}

	doc, err := s.store.Update(ctx, p, cur.Rev)
	if errdefs.IsConflict(err) {
		return store.Document{}, apperr.Conflict("configuration update conflict for %s, ensure you have the latest version", p.Name())
	}
	if err != nil {
		return store.Document{}, err
	}
	s.logger.Info("Profile updated", zap.String("machine", p.Name()), zap.String("rev", doc.Rev))
	return doc, nil
}

// RemoveProfile deletes a stopped machine's profile and log.
func (s *Service) RemoveProfile(ctx context.Context, machine string) error {
	if err := models.ValidateMachineName(machine); err != nil {
		return err
	}
	defer s.locks.Lock(machine)()

	if err := s.guardRemoval(ctx, machine); err != nil {
		return err
	}

	cur, err := s.store.Get(ctx, machine)
	if errdefs.IsNotFound(err) {
		return apperr.NotFound("configuration for %s does not exist, cannot remove", machine)
	}
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, machine, cur.Rev); err != nil {
		return err
	}
	if err := s.catalog.RemoveLog(machine); err != nil {
		return err
	}
	s.logger.Warn("Profile removed", zap.String("machine", machine))
	return nil
}

// Start renders the stored profile and (re)starts the machine's collector.
func (s *Service) Start(ctx context.Context, machine string) (lifecycle.StartResult, error) {
	if err := models.ValidateMachineName(machine); err != nil {
		return lifecycle.StartResult{}, err
	}
	defer s.locks.Lock(machine)()

	doc, err := s.store.Get(ctx, machine)
	if errdefs.IsNotFound(err) {
		return lifecycle.StartResult{}, apperr.NotFound("configuration for %s does not exist, cannot start", machine)
	}
	if err != nil {
		return lifecycle.StartResult{}, err
	}
	return s.ctl.Start(ctx, doc.MachineProfile)
}

// Stop stops the machine's collector. The machine must have a stored profile.
func (s *Service) Stop(ctx context.Context, machine string) (lifecycle.StopResult, error) {
	if err := models.ValidateMachineName(machine); err != nil {
		return lifecycle.StopResult{}, err
	}
	defer s.locks.Lock(machine)()

	if _, err := s.store.Get(ctx, machine); err != nil {
		if errdefs.IsNotFound(err) {
			return lifecycle.StopResult{}, apperr.NotFound("configuration for %s does not exist, cannot stop", machine)
		}
		return lifecycle.StopResult{}, err
	}
	return s.ctl.Stop(ctx, machine)
}

// RemoveMachine deletes a stopped machine's log so it leaves the standby list.
func (s *Service) RemoveMachine(ctx context.Context, machine string) error {
	if err := models.ValidateMachineName(machine); err != nil {
		return err
	}
	defer s.locks.Lock(machine)()

	if err := s.guardRemoval(ctx, machine); err != nil {
		return err
	}
	return s.catalog.RemoveLog(machine)
}

// State infers the machine's PLC connection state from its log.
func (s *Service) State(machine string) (models.ConnectionState, error) {
	return s.state.Infer(machine)
}

// Active lists running collectors.
func (s *Service) Active(ctx context.Context) ([]models.ProcessHandle, error) {
	return s.catalog.Active(ctx)
}

// Configured lists machines with a configuration file.
func (s *Service) Configured() ([]string, error) {
	return s.catalog.Configured()
}

// Standby lists machines with a collector log.
func (s *Service) Standby() ([]string, error) {
	return s.catalog.Logged()
}

// Overview returns the catalog snapshot.
func (s *Service) Overview(ctx context.Context) (catalog.Snapshot, error) {
	return s.catalog.Snapshot(ctx)
}

// Resume relaunches collectors for every configured machine. It takes no
// machine locks and runs before requests are served.
func (s *Service) Resume(ctx context.Context) ([]lifecycle.StartResult, error) {
	names, err := s.catalog.Configured()
	if err != nil {
		return nil, err
	}
	return s.ctl.Resume(ctx, names)
}

// guardRemoval fails with Conflict while a collector runs for machine.
func (s *Service) guardRemoval(ctx context.Context, machine string) error {
	active, err := s.catalog.IsActive(ctx, machine)
	if err != nil {
		return err
	}
	if active {
		return apperr.Conflict("cannot remove %s, machine is currently running", machine)
	}
	return nil
}
