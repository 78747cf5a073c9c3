package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/replyhub/replyhub/app/models"
)

// fakeRepository is an in-memory Repository with the same claim and version
// semantics as the GORM implementation.
type fakeRepository struct {
	mu sync.Mutex

	subs       map[uint]*models.Subscription // keyed by organization id
	plans      map[string]*models.Plan
	events     map[string]*models.WebhookEvent // keyed by external event id
	refunds    map[string]*models.Refund
	orgs       map[uint]*models.Organization
	nextSubID   uint
	nextEvtID   uint
	commitErr   error
	reserveErr  error
	completeErr error
}

func newFakeRepository() *fakeRepository {
	r := &fakeRepository{
		subs:    make(map[uint]*models.Subscription),
		plans:   make(map[string]*models.Plan),
		events:  make(map[string]*models.WebhookEvent),
		refunds: make(map[string]*models.Refund),
		orgs:    make(map[uint]*models.Organization),
	}
	for _, p := range models.DefaultPlans() {
		plan := p
		r.plans[plan.Code] = &plan
	}
	return r
}

func (r *fakeRepository) addSubscription(sub models.Subscription) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSubID++
	sub.ID = r.nextSubID
	r.subs[sub.OrganizationID] = &sub
	return &sub
}

func (r *fakeRepository) GetSubscriptionByOrg(orgID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[orgID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *fakeRepository) CreateSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subs[sub.OrganizationID]; exists {
		return fmt.Errorf("duplicate subscription for org %d", sub.OrganizationID)
	}
	r.nextSubID++
	sub.ID = r.nextSubID
	cp := *sub
	r.subs[sub.OrganizationID] = &cp
	return nil
}

func (r *fakeRepository) CommitSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	stored, ok := r.subs[sub.OrganizationID]
	if !ok || stored.Version != sub.Version {
		return NewConflictError("subscription %d was modified concurrently", sub.ID)
	}
	sub.Version++
	cp := *sub
	r.subs[sub.OrganizationID] = &cp
	return nil
}

func (r *fakeRepository) ListPeriodEndCancellationsDue(now time.Time, limit int) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []models.Subscription
	for _, sub := range r.subs {
		if len(due) >= limit {
			break
		}
		if sub.CancelAtPeriodEnd && sub.Status != models.SubscriptionStatusCanceled &&
			sub.CurrentPeriodEnd != nil && !sub.CurrentPeriodEnd.After(now) {
			due = append(due, *sub)
		}
	}
	return due, nil
}

func (r *fakeRepository) FindPlanByCode(code string) (*models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.plans[code]
	if !ok || !plan.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *plan
	return &cp, nil
}

func (r *fakeRepository) ListActivePlans() ([]models.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var plans []models.Plan
	for _, p := range r.plans {
		if p.IsActive {
			plans = append(plans, *p)
		}
	}
	return plans, nil
}

func (r *fakeRepository) ReserveEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserveErr != nil {
		return false, nil, r.reserveErr
	}
	if stored, exists := r.events[event.EventID]; exists {
		cp := *stored
		return false, &cp, nil
	}
	r.nextEvtID++
	event.ID = r.nextEvtID
	event.ReceivedAt = time.Now()
	event.UpdatedAt = time.Now()
	cp := *event
	r.events[event.EventID] = &cp
	out := cp
	return true, &out, nil
}

func (r *fakeRepository) ClaimEvent(id uint, maxAttempts int, staleBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.ID != id {
			continue
		}
		claimable := (event.Status == models.WebhookEventStatusPending || event.Status == models.WebhookEventStatusFailed) &&
			event.Attempts < maxAttempts
		reclaimable := event.Status == models.WebhookEventStatusProcessing &&
			event.Attempts <= maxAttempts && !event.UpdatedAt.After(staleBefore)
		if !claimable && !reclaimable {
			return false, nil
		}
		event.Status = models.WebhookEventStatusProcessing
		event.Attempts++
		event.UpdatedAt = time.Now()
		return true, nil
	}
	return false, nil
}

func (r *fakeRepository) MarkEventCompleted(id uint, result string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completeErr != nil {
		return r.completeErr
	}
	for _, event := range r.events {
		if event.ID == id {
			now := time.Now()
			event.Status = models.WebhookEventStatusCompleted
			event.Result = result
			event.LastError = ""
			event.NextRetryAt = nil
			event.ProcessedAt = &now
			event.UpdatedAt = now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepository) MarkEventFailed(id uint, lastError string, nextRetryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.ID == id {
			now := time.Now()
			event.Status = models.WebhookEventStatusFailed
			event.LastError = lastError
			event.NextRetryAt = nextRetryAt
			event.ProcessedAt = &now
			event.UpdatedAt = now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepository) GetEventByEventID(eventID string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *event
	return &cp, nil
}

func (r *fakeRepository) DueForRetry(maxAttempts int, now, staleBefore time.Time, limit int) ([]models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []models.WebhookEvent
	for _, event := range r.events {
		if len(due) >= limit {
			break
		}
		retryDue := event.Status == models.WebhookEventStatusFailed && event.Attempts < maxAttempts &&
			event.NextRetryAt != nil && !event.NextRetryAt.After(now)
		orphaned := (event.Status == models.WebhookEventStatusPending || event.Status == models.WebhookEventStatusProcessing) &&
			event.Attempts <= maxAttempts && !event.UpdatedAt.After(staleBefore)
		if retryDue || orphaned {
			due = append(due, *event)
		}
	}
	return due, nil
}

func (r *fakeRepository) CreateRefund(refund *models.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.refunds[refund.ID]; exists {
		return fmt.Errorf("duplicate refund %s", refund.ID)
	}
	cp := *refund
	r.refunds[refund.ID] = &cp
	return nil
}

func (r *fakeRepository) SaveRefund(refund *models.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *refund
	r.refunds[refund.ID] = &cp
	return nil
}

func (r *fakeRepository) GetRefund(id string) (*models.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refund, ok := r.refunds[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *refund
	return &cp, nil
}

func (r *fakeRepository) FindRefundByGatewayRef(gatewayRefundRef string) (*models.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, refund := range r.refunds {
		if refund.GatewayRefundRef == gatewayRefundRef && gatewayRefundRef != "" {
			cp := *refund
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepository) ListRefundsByOrg(orgID uint, offset, limit int) ([]models.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var refunds []models.Refund
	for _, refund := range r.refunds {
		if refund.OrganizationID == orgID {
			refunds = append(refunds, *refund)
		}
	}
	if offset >= len(refunds) {
		return nil, nil
	}
	refunds = refunds[offset:]
	if len(refunds) > limit {
		refunds = refunds[:limit]
	}
	return refunds, nil
}

func (r *fakeRepository) backdateEvent(eventID string, to time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event, ok := r.events[eventID]; ok {
		event.UpdatedAt = to
	}
}

func (r *fakeRepository) addOrganization(orgID uint, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orgs[orgID] = &models.Organization{ID: orgID, Name: name}
}

func (r *fakeRepository) GetOrganization(orgID uint) (*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	org, ok := r.orgs[orgID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *org
	return &cp, nil
}

// fakeGateway records calls and returns scripted results.
type fakeGateway struct {
	mu sync.Mutex

	planChangeErr error
	cancelErr     error
	reactivateErr error
	refundErr     error
	chargeErr     error

	charges map[string]*GatewayCharge

	planChangeCalls []PlanChangeRequest
	cancelCalls     []string
	reactivateCalls []ReactivateRequest
	refundCalls     []GatewayRefundRequest
	chargeLookups   []string

	reactivateResult *GatewaySubscription
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{charges: make(map[string]*GatewayCharge)}
}

func (g *fakeGateway) CreatePlanChange(ctx context.Context, req PlanChangeRequest) (*GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.planChangeCalls = append(g.planChangeCalls, req)
	if g.planChangeErr != nil {
		return nil, g.planChangeErr
	}
	return &GatewaySubscription{SubscriptionRef: req.SubscriptionRef, PlanCode: req.PlanCode}, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subscriptionRef, idempotencyKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls = append(g.cancelCalls, subscriptionRef)
	return g.cancelErr
}

func (g *fakeGateway) ReactivateSubscription(ctx context.Context, req ReactivateRequest) (*GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reactivateCalls = append(g.reactivateCalls, req)
	if g.reactivateErr != nil {
		return nil, g.reactivateErr
	}
	if g.reactivateResult != nil {
		return g.reactivateResult, nil
	}
	return &GatewaySubscription{SubscriptionRef: "sub_new", CustomerRef: req.CustomerRef, PlanCode: req.PlanCode}, nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, req GatewayRefundRequest) (*GatewayRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls = append(g.refundCalls, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &GatewayRefund{RefundRef: "re_" + req.IdempotencyKey, Status: "succeeded", AmountCents: req.AmountCents}, nil
}

func (g *fakeGateway) RetrieveCharge(ctx context.Context, chargeRef string) (*GatewayCharge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeLookups = append(g.chargeLookups, chargeRef)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	charge, ok := g.charges[chargeRef]
	if !ok {
		return nil, NewGatewayError("charge not found", false, nil)
	}
	cp := *charge
	return &cp, nil
}

// fakeAudit collects audit entries for assertions.
type fakeAudit struct {
	mu        sync.Mutex
	entries   []auditEntry
	recordErr error
}

type auditEntry struct {
	Actor      string
	Action     string
	TargetType string
	TargetID   string
}

func (a *fakeAudit) Record(actor, action, targetType, targetID string, details interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recordErr != nil {
		return a.recordErr
	}
	a.entries = append(a.entries, auditEntry{Actor: actor, Action: action, TargetType: targetType, TargetID: targetID})
	return nil
}

func (a *fakeAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}
