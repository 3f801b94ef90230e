package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkin/internal/metrics"
	"checkin/internal/photo"
)

// ErrNameRequired rejects a registration with an empty name.
var ErrNameRequired = errors.New("name is required")

// Store is the persistence surface the service needs.
type Store interface {
	CreateUser(ctx context.Context, name string, role, phone, email *string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (User, error)
	InsertCheckin(ctx context.Context, userID, photoPath string) (Record, error)
	ListJoined(ctx context.Context, nameFilter string, limit int) ([]JoinedRecord, error)
}

// BlobStore is the object-storage surface the service needs.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string
}

// Service runs the check-in flow: guard, encode, upload, insert. Each call
// is synchronous end to end; there is no background work.
type Service struct {
	store Store
	blobs BlobStore
	guard *Guard
	loc   *time.Location
	now   func() time.Time
}

// NewService wires the check-in flow together.
func NewService(store Store, blobs BlobStore, guard *Guard, loc *time.Location) *Service {
	return &Service{store: store, blobs: blobs, guard: guard, loc: loc, now: time.Now}
}

// RegisterUser validates and stores a registration. Email, when present, is
// the upsert key (see Repository.CreateUser).
func (s *Service) RegisterUser(ctx context.Context, name string, role, phone, email *string) (User, error) {
	if strings.TrimSpace(name) == "" {
		return User{}, ErrNameRequired
	}
	return s.store.CreateUser(ctx, name, role, phone, email)
}

// Users lists registered users for the name picker.
func (s *Service) Users(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

// CheckIn records one photo submission for userID. imageData is the raw
// upload; decode failures reject the submission before any storage work.
// Order after the guard is upload first, insert second: a failed insert can
// only leave an unreferenced blob behind, never a row pointing at nothing.
func (s *Service) CheckIn(ctx context.Context, userID string, imageData []byte) (Record, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Record{}, err
	}

	now := s.now().In(s.loc)
	if err := s.guard.Check(ctx, user.ID, now); err != nil {
		var dup *DuplicateError
		if errors.As(err, &dup) {
			metrics.CheckinsRejected.WithLabelValues(dup.Policy).Inc()
		}
		return Record{}, err
	}

	img, err := photo.Decode(imageData)
	if err != nil {
		return Record{}, err
	}
	encoded, err := photo.Encode(img)
	if err != nil {
		return Record{}, err
	}

	path := ObjectPath(user.ID, now)
	if err := s.blobs.Upload(ctx, path, encoded, "image/jpeg"); err != nil {
		return Record{}, fmt.Errorf("upload photo: %w", err)
	}

	rec, err := s.store.InsertCheckin(ctx, user.ID, path)
	if err != nil {
		// The uploaded object is now orphaned. Nothing references it, so it
		// is invisible to readers; cmd/maintenance -sweep reclaims it.
		return Record{}, fmt.Errorf("record check-in: %w", err)
	}
	metrics.CheckinsRecorded.Inc()
	return rec, nil
}

// GroupedList builds the admin GroupedView for the current query result and
// resolves each entry's public photo URL.
func (s *Service) GroupedList(ctx context.Context, nameFilter string, limit int) ([]UserGroup, error) {
	records, err := s.store.ListJoined(ctx, nameFilter, limit)
	if err != nil {
		return nil, err
	}
	groups := Group(records, s.loc, s.now)
	for gi := range groups {
		for di := range groups[gi].Days {
			entries := groups[gi].Days[di].Entries
			for ei := range entries {
				entries[ei].PhotoURL = s.blobs.PublicURL(entries[ei].PhotoPath)
			}
		}
	}
	return groups, nil
}
