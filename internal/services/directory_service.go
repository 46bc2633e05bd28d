package services

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hearthside/comms/internal/apperr"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

const (
	usersCollection      = "users"
	ticketsCollection    = "tickets"
	scopesCollection     = "scopes_of_work"
	leasesCollection     = "leases"
	propertiesCollection = "properties"
)

// IDirectoryService resolves identities, organizations, and the business
// read models (tickets, scopes of work, leases, properties) that
// provisioning consults. The owning platform writes these collections;
// this engine only reads them.
type IDirectoryService interface {
	FindUser(ctx context.Context, userID utils.SixID) (*models.User, error)
	DisplayName(ctx context.Context, p models.Party) string
	UsersOfOrganization(ctx context.Context, orgID utils.SixID, role models.Role) ([]models.User, error)

	TicketByID(ctx context.Context, ticketID utils.SixID) (*models.Ticket, error)
	ScopeOfWorkByID(ctx context.Context, sowID utils.SixID) (*models.ScopeOfWork, error)
	LeaseByID(ctx context.Context, leaseID utils.SixID) (*models.Lease, error)
	PropertyByID(ctx context.Context, propertyID utils.SixID) (*models.Property, error)
	ActiveLeasesForUnits(ctx context.Context, unitIDs []utils.SixID) ([]models.Lease, error)
	HasActiveLeaseInProperty(ctx context.Context, userID, propertyID utils.SixID) (bool, error)
}

type directoryService struct {
	db *mongo.Database
}

// NewDirectoryService creates a Mongo-backed directory.
func NewDirectoryService(db *mongo.Database) IDirectoryService {
	return &directoryService{db: db}
}

func (s *directoryService) FindUser(ctx context.Context, userID utils.SixID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).
		FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("user %s not found", userID.String())
		}
		return nil, fmt.Errorf("error finding user %s: %w", userID.String(), err)
	}
	return &user, nil
}

// DisplayName resolves a party's display identity via a per-role lookup.
// Unknown parties render as their id rather than failing a read path.
func (s *directoryService) DisplayName(ctx context.Context, p models.Party) string {
	user, err := s.FindUser(ctx, p.ID)
	if err != nil {
		return p.ID.String()
	}
	return user.Name
}

func (s *directoryService) UsersOfOrganization(ctx context.Context, orgID utils.SixID, role models.Role) ([]models.User, error) {
	filter := bson.M{"organization_id": orgID, "deleted": false}
	if role != "" {
		filter["role"] = role
	}
	cursor, err := s.db.Collection(usersCollection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query users of organization %s: %w", orgID.String(), err)
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode organization users: %w", err)
	}
	return users, nil
}

func (s *directoryService) TicketByID(ctx context.Context, ticketID utils.SixID) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.Collection(ticketsCollection).FindOne(ctx, bson.M{"_id": ticketID}).Decode(&ticket)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("ticket %s not found", ticketID.String())
		}
		return nil, fmt.Errorf("error finding ticket %s: %w", ticketID.String(), err)
	}
	return &ticket, nil
}

func (s *directoryService) ScopeOfWorkByID(ctx context.Context, sowID utils.SixID) (*models.ScopeOfWork, error) {
	var sow models.ScopeOfWork
	err := s.db.Collection(scopesCollection).FindOne(ctx, bson.M{"_id": sowID}).Decode(&sow)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("scope of work %s not found", sowID.String())
		}
		return nil, fmt.Errorf("error finding scope of work %s: %w", sowID.String(), err)
	}
	return &sow, nil
}

func (s *directoryService) LeaseByID(ctx context.Context, leaseID utils.SixID) (*models.Lease, error) {
	var lease models.Lease
	err := s.db.Collection(leasesCollection).FindOne(ctx, bson.M{"_id": leaseID}).Decode(&lease)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("lease %s not found", leaseID.String())
		}
		return nil, fmt.Errorf("error finding lease %s: %w", leaseID.String(), err)
	}
	return &lease, nil
}

func (s *directoryService) PropertyByID(ctx context.Context, propertyID utils.SixID) (*models.Property, error) {
	var property models.Property
	err := s.db.Collection(propertiesCollection).FindOne(ctx, bson.M{"_id": propertyID}).Decode(&property)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("property %s not found", propertyID.String())
		}
		return nil, fmt.Errorf("error finding property %s: %w", propertyID.String(), err)
	}
	return &property, nil
}

func (s *directoryService) ActiveLeasesForUnits(ctx context.Context, unitIDs []utils.SixID) ([]models.Lease, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}
	cursor, err := s.db.Collection(leasesCollection).Find(ctx, bson.M{
		"unit_id": bson.M{"$in": unitIDs},
		"active":  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query active leases: %w", err)
	}
	defer cursor.Close(ctx)

	var leases []models.Lease
	if err = cursor.All(ctx, &leases); err != nil {
		return nil, fmt.Errorf("failed to decode leases: %w", err)
	}
	return leases, nil
}

func (s *directoryService) HasActiveLeaseInProperty(ctx context.Context, userID, propertyID utils.SixID) (bool, error) {
	count, err := s.db.Collection(leasesCollection).CountDocuments(ctx, bson.M{
		"property_id": propertyID,
		"active":      true,
		"tenant_ids":  userID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check active lease for user %s in property %s: %w",
			userID.String(), propertyID.String(), err)
	}
	return count > 0, nil
}
