// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/toeirei/patchfleet/internal/jobs"
	"github.com/toeirei/patchfleet/internal/model"
)

type systemView struct {
	ID             int64               `json:"id"`
	Hostname       string              `json:"hostname"`
	Connected      bool                `json:"connected"`
	OSName         string              `json:"os_name"`
	OSVersion      string              `json:"os_version"`
	Kernel         string              `json:"kernel"`
	PackageManager string              `json:"package_manager"`
	PendingUpdates int                 `json:"pending_updates"`
	Priority       model.PatchPriority `json:"priority"`
	CVEsScannedAt  *time.Time          `json:"cves_scanned_at,omitempty"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type packageView struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	CurrentVersion string  `json:"current_version"`
	NewVersion     *string `json:"new_version,omitempty"`
	Active         bool    `json:"active"`
}

type cveView struct {
	CVEID           string         `json:"cve_id"`
	Description     string         `json:"description"`
	Score           *float64       `json:"score,omitempty"`
	Severity        model.Severity `json:"severity"`
	AffectedPackage string         `json:"affected_package"`
	PackageURL      string         `json:"purl,omitempty"`
}

type jobView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`
}

func newJobView(j *model.Job) jobView {
	return jobView{ID: j.ID, Kind: j.Kind, Label: j.Label, StartedAt: j.StartedAt}
}

func (s *Server) systemView(c *fiber.Ctx, sys model.System) (systemView, error) {
	pending, err := s.Store.PendingPackages(c.UserContext(), sys.ID)
	if err != nil {
		return systemView{}, err
	}
	return systemView{
		ID:             sys.ID,
		Hostname:       sys.Hostname,
		Connected:      sys.Connected,
		OSName:         sys.OSName,
		OSVersion:      sys.OSVersion,
		Kernel:         sys.Kernel,
		PackageManager: sys.PackageManager,
		PendingUpdates: len(pending),
		Priority:       model.PriorityFor(len(pending)),
		CVEsScannedAt:  sys.CVEsScannedAt,
		UpdatedAt:      sys.UpdatedAt,
	}, nil
}

func idParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id "+strconv.Quote(c.Params("id")))
	}
	return id, nil
}

// ownedSystem loads the system in the path, so that nested resources of
// another owner's system answer 404.
func (s *Server) ownedSystem(c *fiber.Ctx) (*model.System, error) {
	id, err := idParam(c)
	if err != nil {
		return nil, err
	}
	return s.Store.GetSystem(c.UserContext(), ownerOf(c), id)
}

func (s *Server) summary(c *fiber.Ctx) error {
	sum, err := s.Store.Summary(c.UserContext(), ownerOf(c))
	if err != nil {
		return err
	}
	return c.JSON(sum)
}

func (s *Server) listSystems(c *fiber.Ctx) error {
	systems, err := s.Store.ListSystems(c.UserContext(), ownerOf(c))
	if err != nil {
		return err
	}
	out := make([]systemView, 0, len(systems))
	for _, sys := range systems {
		v, err := s.systemView(c, sys)
		if err != nil {
			return err
		}
		out = append(out, v)
	}
	return c.JSON(out)
}

func (s *Server) getSystem(c *fiber.Ctx) error {
	sys, err := s.ownedSystem(c)
	if err != nil {
		return err
	}
	v, err := s.systemView(c, *sys)
	if err != nil {
		return err
	}
	return c.JSON(v)
}

func (s *Server) deleteSystem(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteSystem(c.UserContext(), ownerOf(c), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// listPackages returns active packages; ?all=true includes retired ones and
// ?pending=true only those with an update.
func (s *Server) listPackages(c *fiber.Ctx) error {
	sys, err := s.ownedSystem(c)
	if err != nil {
		return err
	}
	var pkgs []model.Package
	if c.QueryBool("pending") {
		pkgs, err = s.Store.PendingPackages(c.UserContext(), sys.ID)
	} else {
		pkgs, err = s.Store.ListPackages(c.UserContext(), sys.ID, !c.QueryBool("all"))
	}
	if err != nil {
		return err
	}
	out := make([]packageView, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, packageView{ID: p.ID, Name: p.Name, CurrentVersion: p.CurrentVersion, NewVersion: p.NewVersion, Active: p.Active})
	}
	return c.JSON(out)
}

func (s *Server) listCVEs(c *fiber.Ctx) error {
	sys, err := s.ownedSystem(c)
	if err != nil {
		return err
	}
	cves, err := s.Store.ListCVEs(c.UserContext(), sys.ID)
	if err != nil {
		return err
	}
	out := make([]cveView, 0, len(cves))
	for _, v := range cves {
		out = append(out, cveView{
			CVEID:           v.CVEID,
			Description:     v.Description,
			Score:           v.Score,
			Severity:        v.Severity,
			AffectedPackage: v.AffectedPackage,
			PackageURL:      v.PackageURL,
		})
	}
	return c.JSON(out)
}

func (s *Server) dispatch(c *fiber.Ctx, req jobs.Request) error {
	req.Owner = ownerOf(c)
	if err := req.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	job, err := s.Dispatcher.Dispatch(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(newJobView(job))
}

func (s *Server) dispatchInventory(c *fiber.Ctx) error {
	var body struct {
		Hosts []string `json:"hosts"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	return s.dispatch(c, jobs.Request{Kind: jobs.KindInventory, Hosts: body.Hosts})
}

func (s *Server) dispatchScan(c *fiber.Ctx) error {
	var body struct {
		SystemID int64 `json:"system_id"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	return s.dispatch(c, jobs.Request{Kind: jobs.KindScanCVE, SystemID: body.SystemID})
}

func (s *Server) dispatchUpdatePackage(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	return s.dispatch(c, jobs.Request{Kind: jobs.KindUpdatePackage, PackageID: id})
}

func (s *Server) dispatchUpdateHost(c *fiber.Ctx) error {
	sys, err := s.ownedSystem(c)
	if err != nil {
		return err
	}
	return s.dispatch(c, jobs.Request{Kind: jobs.KindUpdateHost, SystemID: sys.ID})
}

func (s *Server) pollJobs(c *fiber.Ctx) error {
	views, err := s.Dispatcher.Poll(c.UserContext(), ownerOf(c))
	if err != nil {
		return err
	}
	return c.JSON(views)
}

func (s *Server) getJob(c *fiber.Ctx) error {
	v, err := s.Dispatcher.Get(c.UserContext(), ownerOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(v)
}

func (s *Server) clearJobs(c *fiber.Ctx) error {
	n, err := s.Dispatcher.Clear(c.UserContext(), ownerOf(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"cleared": n})
}

func (s *Server) retryJob(c *fiber.Ctx) error {
	job, err := s.Dispatcher.Redispatch(c.UserContext(), ownerOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(newJobView(job))
}
