package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"hearthside/comms/internal/apperr"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

// IProvisioningService creates threads from business lifecycle events.
// Every method is idempotent under at-least-once delivery: re-running the
// same event finds the existing thread and upserts participants instead of
// duplicating either.
type IProvisioningService interface {
	TicketCreated(ctx context.Context, ticketID utils.SixID) error
	TicketAccepted(ctx context.Context, ticketID utils.SixID) error
	ScopeOfWorkCreated(ctx context.Context, sowID utils.SixID) error
	ScopeOfWorkAccepted(ctx context.Context, sowID, contractorID utils.SixID) error
	LeaseActivated(ctx context.Context, leaseID utils.SixID) error
}

type provisioningService struct {
	threads       IThreadService
	participants  IParticipantService
	directory     IDirectoryService
	notifications INotificationService
}

// NewProvisioningService creates a ProvisioningService.
func NewProvisioningService(threads IThreadService, participants IParticipantService,
	directory IDirectoryService, notifications INotificationService) IProvisioningService {
	return &provisioningService{
		threads:       threads,
		participants:  participants,
		directory:     directory,
		notifications: notifications,
	}
}

// ensureThread returns the thread for the (entity, type) tuple, creating it
// with the given participant set when absent. A Conflict from a concurrent
// creator resolves to the winner's thread.
func (s *provisioningService) ensureThread(ctx context.Context, entityType models.EntityType,
	entityID utils.SixID, threadType models.ThreadType, title string,
	parties []models.Party, createdBy utils.SixID) (*models.Thread, bool, error) {

	existing, err := s.threads.FindByEntity(ctx, entityType, entityID, &threadType)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return &existing[0], false, nil
	}

	thread, err := s.threads.Create(ctx, CreateThreadInput{
		LinkedEntityType: entityType,
		LinkedEntityID:   entityID,
		ThreadType:       threadType,
		Title:            title,
		Participants:     parties,
		CreatedBy:        createdBy,
	})
	if err == nil {
		return thread, true, nil
	}
	if apperr.KindOf(err) == apperr.KindConflict {
		existing, lookupErr := s.threads.FindByEntity(ctx, entityType, entityID, &threadType)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		if len(existing) > 0 {
			return &existing[0], false, nil
		}
	}
	return nil, false, err
}

// landlordsOfProperty resolves the landlord users of the organization that
// owns the property.
func (s *provisioningService) landlordsOfProperty(ctx context.Context, propertyID utils.SixID) ([]models.Party, *models.Property, error) {
	property, err := s.directory.PropertyByID(ctx, propertyID)
	if err != nil {
		return nil, nil, err
	}
	users, err := s.directory.UsersOfOrganization(ctx, property.OrganizationID, models.RoleLandlord)
	if err != nil {
		return nil, nil, err
	}
	parties := make([]models.Party, 0, len(users))
	for _, u := range users {
		parties = append(parties, models.Party{Role: models.RoleLandlord, ID: u.ID})
	}
	return parties, property, nil
}

// landlordsForScope walks scope -> ticket -> requester -> organization to
// resolve the landlord side of a scope of work.
func (s *provisioningService) landlordsForScope(ctx context.Context, sow *models.ScopeOfWork) ([]models.Party, error) {
	ticket, err := s.directory.TicketByID(ctx, sow.TicketID)
	if err != nil {
		return nil, err
	}
	requester, err := s.directory.FindUser(ctx, ticket.RequesterID)
	if err != nil {
		return nil, err
	}
	users, err := s.directory.UsersOfOrganization(ctx, requester.OrganizationID, models.RoleLandlord)
	if err != nil {
		return nil, err
	}
	parties := make([]models.Party, 0, len(users))
	for _, u := range users {
		parties = append(parties, models.Party{Role: models.RoleLandlord, ID: u.ID})
	}
	return parties, nil
}

// tenantsOnUnits derives the tenant audience from active leases on the
// given units, deduplicated.
func (s *provisioningService) tenantsOnUnits(ctx context.Context, unitIDs []utils.SixID) ([]models.Party, error) {
	leases, err := s.directory.ActiveLeasesForUnits(ctx, unitIDs)
	if err != nil {
		return nil, err
	}
	seen := map[utils.SixID]bool{}
	var parties []models.Party
	for _, lease := range leases {
		for _, tenantID := range lease.TenantIDs {
			if seen[tenantID] {
				continue
			}
			seen[tenantID] = true
			parties = append(parties, models.Party{Role: models.RoleTenant, ID: tenantID})
		}
	}
	return parties, nil
}

func tenantParties(ids []utils.SixID) []models.Party {
	parties := make([]models.Party, 0, len(ids))
	for _, id := range ids {
		parties = append(parties, models.Party{Role: models.RoleTenant, ID: id})
	}
	return parties
}

// TicketCreated opens the ticket's LANDLORD_TENANT thread. The landlord
// organization and the ticket's tenants are all bound mandatory and ACTIVE
// by the policy; the contractor is not added until acceptance.
func (s *provisioningService) TicketCreated(ctx context.Context, ticketID utils.SixID) error {
	ticket, err := s.directory.TicketByID(ctx, ticketID)
	if err != nil {
		return err
	}
	landlords, _, err := s.landlordsOfProperty(ctx, ticket.PropertyID)
	if err != nil {
		return err
	}

	parties := append(landlords, tenantParties(ticket.TenantIDs)...)
	_, _, err = s.ensureThread(ctx, models.EntityTicket, ticketID,
		models.ThreadLandlordTenant, ticket.Title, parties, utils.SixID{})
	return err
}

// TicketAccepted joins the accepted contractor into the ticket's thread as
// mandatory and ACTIVE. Creates the thread first if the creation event was
// missed.
func (s *provisioningService) TicketAccepted(ctx context.Context, ticketID utils.SixID) error {
	ticket, err := s.directory.TicketByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.ContractorID.IsZero() {
		return apperr.Validation("ticket %s has no accepted contractor", ticketID.String())
	}

	threadType := models.ThreadLandlordTenant
	existing, err := s.threads.FindByEntity(ctx, models.EntityTicket, ticketID, &threadType)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		if err := s.TicketCreated(ctx, ticketID); err != nil {
			return err
		}
		existing, err = s.threads.FindByEntity(ctx, models.EntityTicket, ticketID, &threadType)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return errors.New("ticket thread missing after creation")
		}
	}

	contractor := models.Party{Role: models.RoleContractor, ID: ticket.ContractorID}
	return s.participants.Add(ctx, existing[0].ID, contractor, true, models.StatusActive)
}

// ScopeOfWorkCreated opens the scope's working thread (landlord + affected
// tenants, all mandatory) and its group thread (tenants invited as
// optional/PENDING), then notifies the invited tenants.
func (s *provisioningService) ScopeOfWorkCreated(ctx context.Context, sowID utils.SixID) error {
	sow, err := s.directory.ScopeOfWorkByID(ctx, sowID)
	if err != nil {
		return err
	}
	if sow.IsSubScope() {
		return apperr.Validation("sub-scopes of work cannot own threads")
	}

	landlords, err := s.landlordsForScope(ctx, sow)
	if err != nil {
		return err
	}
	tenants, err := s.tenantsOnUnits(ctx, sow.UnitIDs)
	if err != nil {
		return err
	}
	ticket, err := s.directory.TicketByID(ctx, sow.TicketID)
	if err != nil {
		return err
	}

	parties := append(append([]models.Party{}, landlords...), tenants...)
	if _, _, err := s.ensureThread(ctx, models.EntityScopeOfWork, sowID,
		models.ThreadLandlordTenantSOW, sow.Title, parties, utils.SixID{}); err != nil {
		return err
	}

	group, created, err := s.ensureThread(ctx, models.EntityScopeOfWork, sowID,
		models.ThreadSOWGroup, sow.Title, parties, ticket.RequesterID)
	if err != nil {
		return err
	}
	if created {
		var invited []utils.SixID
		for _, t := range tenants {
			invited = append(invited, t.ID)
		}
		s.notifications.NotifyMany(ctx, invited, group.ID, models.NotifyInvitation,
			sow.Title, "You have been invited to a conversation",
			fmt.Sprintf("/threads/%s", group.ID.String()))
	}
	return nil
}

// ScopeOfWorkAccepted joins the contractor (optional/PENDING) into every
// thread of the scope, then lazily opens the LANDLORD_CONTRACTOR and
// CONTRACTOR_TENANT side channels if they do not exist yet.
func (s *provisioningService) ScopeOfWorkAccepted(ctx context.Context, sowID, contractorID utils.SixID) error {
	sow, err := s.directory.ScopeOfWorkByID(ctx, sowID)
	if err != nil {
		return err
	}
	contractor := models.Party{Role: models.RoleContractor, ID: contractorID}

	existing, err := s.threads.FindByEntity(ctx, models.EntityScopeOfWork, sowID, nil)
	if err != nil {
		return err
	}
	for _, thread := range existing {
		if err := s.participants.Add(ctx, thread.ID, contractor, false, models.StatusPending); err != nil {
			return err
		}
	}

	landlords, err := s.landlordsForScope(ctx, sow)
	if err != nil {
		return err
	}
	if _, _, err := s.ensureThread(ctx, models.EntityScopeOfWork, sowID,
		models.ThreadLandlordContr, sow.Title,
		append(append([]models.Party{}, landlords...), contractor), utils.SixID{}); err != nil {
		// The tuple may already hold the contractor from the sweep above.
		if apperr.KindOf(err) != apperr.KindConflict {
			return err
		}
	}

	tenants, err := s.tenantsOnUnits(ctx, sow.UnitIDs)
	if err != nil {
		return err
	}
	if len(tenants) > 0 {
		if _, _, err := s.ensureThread(ctx, models.EntityScopeOfWork, sowID,
			models.ThreadContractorTenant, sow.Title,
			append(append([]models.Party{}, tenants...), contractor), utils.SixID{}); err != nil {
			if apperr.KindOf(err) != apperr.KindConflict {
				return err
			}
		}
	}
	return nil
}

// LeaseActivated merges the lease's tenants into the property-wide
// LANDLORD_TENANT thread, creating it with the full landlord organization
// when this is the property's first activation. Keying by property makes
// every lease in the building converge on one conversation.
func (s *provisioningService) LeaseActivated(ctx context.Context, leaseID utils.SixID) error {
	lease, err := s.directory.LeaseByID(ctx, leaseID)
	if err != nil {
		return err
	}
	landlords, property, err := s.landlordsOfProperty(ctx, lease.PropertyID)
	if err != nil {
		return err
	}
	tenants := tenantParties(lease.TenantIDs)

	threadType := models.ThreadLandlordTenant
	existing, err := s.threads.FindByEntity(ctx, models.EntityProperty, lease.PropertyID, &threadType)
	if err != nil {
		return err
	}

	var thread *models.Thread
	if len(existing) > 0 {
		thread = &existing[0]
		for _, tenant := range tenants {
			if err := s.participants.Add(ctx, thread.ID, tenant, true, models.StatusActive); err != nil {
				return err
			}
		}
	} else {
		parties := append(append([]models.Party{}, landlords...), tenants...)
		thread, _, err = s.ensureThread(ctx, models.EntityProperty, lease.PropertyID,
			models.ThreadLandlordTenant, property.Name, parties, utils.SixID{})
		if err != nil {
			return err
		}
		// Merge in case a concurrent activation won the create with a
		// different lease's tenant set.
		for _, tenant := range tenants {
			if err := s.participants.Add(ctx, thread.ID, tenant, true, models.StatusActive); err != nil {
				return err
			}
		}
	}

	var affected []utils.SixID
	for _, p := range append(append([]models.Party{}, landlords...), tenants...) {
		affected = append(affected, p.ID)
	}
	s.notifications.NotifyMany(ctx, affected, thread.ID, models.NotifyNewChannel,
		property.Name, "A new conversation channel is available",
		fmt.Sprintf("/threads/%s", thread.ID.String()))

	log.Printf("Lease %s activated, property thread %s ready.", leaseID.String(), thread.ID.String())
	return nil
}
