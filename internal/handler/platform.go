package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/omnigate/omnigate/internal/compliance"
	"github.com/omnigate/omnigate/internal/ledger"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/reconcile"
	"github.com/omnigate/omnigate/internal/reserves"
	"github.com/omnigate/omnigate/internal/venue"
)

// PlatformHandler exposes the operational surface: ledger state, venue
// status, reconciliation history and proof-of-reserves.
type PlatformHandler struct {
	allocator  *ledger.Allocator
	registry   *venue.Registry
	recon      *reconcile.Engine
	records    reconcile.RecordStore
	generator  *reserves.Generator
	proofs     reserves.ProofStore
	compliance compliance.Repository
}

func NewPlatformHandler(allocator *ledger.Allocator, registry *venue.Registry, recon *reconcile.Engine, records reconcile.RecordStore, generator *reserves.Generator, proofs reserves.ProofStore, complianceRepo compliance.Repository) *PlatformHandler {
	return &PlatformHandler{
		allocator:  allocator,
		registry:   registry,
		recon:      recon,
		records:    records,
		generator:  generator,
		proofs:     proofs,
		compliance: complianceRepo,
	}
}

func (h *PlatformHandler) ListBalances(c *gin.Context) {
	rows, err := h.allocator.Pairs(c.Request.Context())
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *PlatformHandler) GetBalance(c *gin.Context) {
	row, err := h.allocator.Snapshot(c.Request.Context(), c.Param("venue"), c.Param("asset"))
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	if row == nil {
		c.Error(apperrors.Newf(apperrors.ErrNotFound, "no ledger row for %s/%s", c.Param("venue"), c.Param("asset"))) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *PlatformHandler) ListVenues(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Configs())
}

func (h *PlatformHandler) TriggerReconciliation(c *gin.Context) {
	summary, err := h.recon.RunExclusive(c.Request.Context())
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *PlatformHandler) ListReconciliations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.records.List(c.Request.Context(), c.Param("venue"), c.Param("asset"), limit)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *PlatformHandler) GenerateProof(c *gin.Context) {
	proof, err := h.generator.Generate(c.Request.Context(), c.Param("venue"), c.Param("asset"))
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusCreated, proof)
}

func (h *PlatformHandler) GetLatestProof(c *gin.Context) {
	proof, err := h.proofs.Latest(c.Request.Context(), c.Param("venue"), c.Param("asset"))
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	if proof == nil {
		c.Error(apperrors.Newf(apperrors.ErrNotFound, "no proof for %s/%s", c.Param("venue"), c.Param("asset"))) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, proof)
}

func (h *PlatformHandler) GetComplianceRecords(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("id")
	travelRules, err := h.compliance.TravelRulesByOrder(ctx, orderID)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	reports, err := h.compliance.CrossBorderByOrder(ctx, orderID)
	if err != nil {
		c.Error(err) //nolint:errcheck
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"travel_rule_records":  travelRules,
		"cross_border_reports": reports,
	})
}
