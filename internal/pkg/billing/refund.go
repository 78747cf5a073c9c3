package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/replyhub/replyhub/app/models"
	"github.com/replyhub/replyhub/internal/pkg/audit"
	"gorm.io/gorm"
)

const (
	AuditActionRefundRequested = "billing.refund_requested"
	AuditActionRefundCompleted = "billing.refund_completed"
	AuditActionRefundFailed    = "billing.refund_failed"
	AuditActionRefundSettled   = "billing.refund_settled"
	AuditActionRefundRejected  = "billing.refund_rejected"
)

// RefundRequest is a manual refund operation.
type RefundRequest struct {
	OrganizationID     uint
	ChargeRef          string
	AmountCents        int64
	Currency           string
	Reason             string
	Detail             string
	CancelSubscription bool
	Actor              string
}

// RefundManager validates and executes refunds against the gateway. Every
// request leaves an audit entry, including ones rejected at validation; only
// requests that pass validation produce a refund row. The optional
// subscription cancellation runs only after the gateway confirmed the refund.
type RefundManager struct {
	repo      Repository
	gateway   Gateway
	lifecycle *LifecycleService
	audit     audit.Sink
}

// NewRefundManager wires the refund manager.
func NewRefundManager(repo Repository, gateway Gateway, lifecycle *LifecycleService, sink audit.Sink) *RefundManager {
	return &RefundManager{repo: repo, gateway: gateway, lifecycle: lifecycle, audit: sink}
}

// ProcessRefund runs the full refund flow. Validation failures are rejected
// before any gateway call; the remaining-refundable check uses the gateway's
// authoritative charge state, never locally cached totals.
func (m *RefundManager) ProcessRefund(ctx context.Context, req RefundRequest) (*models.Refund, error) {
	if req.OrganizationID == 0 {
		return nil, NewValidationError("organization id is required")
	}
	if strings.TrimSpace(req.ChargeRef) == "" {
		return nil, NewValidationError("charge ref is required")
	}
	if req.AmountCents <= 0 {
		return nil, m.rejectRefund(req, NewValidationError("refund amount must be positive, got %d", req.AmountCents))
	}
	if !models.ValidRefundReason(req.Reason) {
		return nil, m.rejectRefund(req, NewValidationError("unknown refund reason %q", req.Reason))
	}

	charge, err := m.gateway.RetrieveCharge(ctx, req.ChargeRef)
	if err != nil {
		return nil, err
	}
	if remaining := charge.RemainingRefundableCents(); req.AmountCents > remaining {
		return nil, m.rejectRefund(req, NewValidationError("refund amount %d exceeds remaining refundable %d on charge %s",
			req.AmountCents, remaining, req.ChargeRef))
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = charge.Currency
	}
	if currency != charge.Currency {
		return nil, m.rejectRefund(req, NewValidationError("refund currency %s does not match charge currency %s", currency, charge.Currency))
	}

	refund := &models.Refund{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		ChargeRef:      req.ChargeRef,
		AmountCents:    req.AmountCents,
		Currency:       currency,
		Reason:         req.Reason,
		Detail:         req.Detail,
		Status:         models.RefundStatusPending,
		RequestedBy:    req.Actor,
	}
	if err := m.repo.CreateRefund(refund); err != nil {
		return nil, NewTransientError("refund record create failed", err)
	}
	m.recordAudit(req.Actor, AuditActionRefundRequested, refund, nil)

	gw, err := m.gateway.CreateRefund(ctx, GatewayRefundRequest{
		ChargeRef:      req.ChargeRef,
		AmountCents:    req.AmountCents,
		Currency:       currency,
		Reason:         req.Reason,
		IdempotencyKey: refund.ID,
	})
	if err != nil {
		refund.Status = models.RefundStatusFailed
		refund.FailureMessage = err.Error()
		now := time.Now()
		refund.ProcessedAt = &now
		if saveErr := m.repo.SaveRefund(refund); saveErr != nil {
			log.Errorf("[Refund] failed to persist failed refund %s: %v", refund.ID, saveErr)
		}
		m.recordAudit(req.Actor, AuditActionRefundFailed, refund, map[string]interface{}{"error": err.Error()})
		return refund, err
	}

	refund.GatewayRefundRef = gw.RefundRef
	refund.Status = models.RefundStatusCompleted
	now := time.Now()
	refund.ProcessedAt = &now
	if err := m.repo.SaveRefund(refund); err != nil {
		// The gateway refund went through; surface the inconsistency loudly
		// but do not fail the operation.
		log.Errorf("[Refund] gateway refund %s confirmed but local update failed: %v", gw.RefundRef, err)
	}
	m.recordAudit(req.Actor, AuditActionRefundCompleted, refund, map[string]interface{}{
		"gateway_refund_ref": gw.RefundRef,
	})

	// Cancellation strictly follows refund confirmation; a failed refund
	// must never silently cancel service.
	if req.CancelSubscription {
		if _, err := m.lifecycle.CancelImmediatelyForRefund(ctx, req.OrganizationID, refund.ID, req.Actor); err != nil {
			log.Errorf("[Refund] post-refund cancellation for org %d failed: %v", req.OrganizationID, err)
			return refund, err
		}
	}
	return refund, nil
}

// GetRefund loads one refund record.
func (m *RefundManager) GetRefund(ctx context.Context, id string) (*models.Refund, error) {
	_ = ctx
	refund, err := m.repo.GetRefund(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewValidationError("refund %q not found", id)
		}
		return nil, NewTransientError("refund lookup failed", err)
	}
	return refund, nil
}

// ListRefunds returns an organization's refunds, newest first.
func (m *RefundManager) ListRefunds(ctx context.Context, orgID uint, offset, limit int) ([]models.Refund, error) {
	_ = ctx
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	refunds, err := m.repo.ListRefundsByOrg(orgID, offset, limit)
	if err != nil {
		return nil, NewTransientError("refund list failed", err)
	}
	return refunds, nil
}

// HandleGatewayRefundCompleted settles a refund the gateway completed
// asynchronously. Unknown refund refs are stale or foreign events and resolve
// to no-ops.
func (m *RefundManager) HandleGatewayRefundCompleted(ctx context.Context, refundRef string) (bool, error) {
	_ = ctx
	refund, err := m.repo.FindRefundByGatewayRef(refundRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, NewTransientError("refund lookup failed", err)
	}
	if refund.Status == models.RefundStatusCompleted {
		return false, nil
	}
	refund.Status = models.RefundStatusCompleted
	refund.FailureMessage = ""
	now := time.Now()
	refund.ProcessedAt = &now
	if err := m.repo.SaveRefund(refund); err != nil {
		return false, NewTransientError("refund update failed", err)
	}
	m.recordAudit(GatewayActor, AuditActionRefundSettled, refund, nil)
	return true, nil
}

func (m *RefundManager) recordAudit(actor, action string, refund *models.Refund, extra map[string]interface{}) {
	if m.audit == nil {
		return
	}
	details := map[string]interface{}{
		"charge_ref":   refund.ChargeRef,
		"amount_cents": refund.AmountCents,
		"currency":     refund.Currency,
		"reason":       refund.Reason,
		"status":       refund.Status,
	}
	for k, v := range extra {
		details[k] = v
	}
	if err := m.audit.Record(actor, action, "refund", refund.ID, details); err != nil {
		log.Errorf("[Refund] audit write failed for refund %s: %v", refund.ID, err)
	}
}

// rejectRefund records a rejected refund attempt before handing the
// validation error back. No refund row exists at this point, so the
// audit entry is keyed by the charge reference instead.
func (m *RefundManager) rejectRefund(req RefundRequest, cause *Error) error {
	if m.audit != nil {
		details := map[string]interface{}{
			"charge_ref":   req.ChargeRef,
			"amount_cents": req.AmountCents,
			"currency":     req.Currency,
			"reason":       req.Reason,
			"error":        cause.Message,
		}
		if err := m.audit.Record(req.Actor, AuditActionRefundRejected, "refund_request", req.ChargeRef, details); err != nil {
			log.Errorf("[Refund] audit write failed for rejected refund on charge %s: %v", req.ChargeRef, err)
		}
	}
	return cause
}
