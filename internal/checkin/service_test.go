package checkin

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	users     map[string]User
	checkins  []Record
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]User)}
}

func (f *fakeStore) CreateUser(_ context.Context, name string, role, phone, email *string) (User, error) {
	u := User{ID: uuid.NewString(), Name: strings.TrimSpace(name), Role: role, Phone: phone, CreatedAt: time.Now()}
	if email != nil {
		folded := strings.ToLower(strings.TrimSpace(*email))
		u.Email = &folded
		for id, existing := range f.users {
			if existing.Email != nil && *existing.Email == folded {
				u.ID = id
				f.users[id] = u
				return u, nil
			}
		}
	}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) ListUsers(_ context.Context) ([]User, error) {
	var out []User
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (User, error) {
	u, ok := f.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeStore) InsertCheckin(_ context.Context, userID, photoPath string) (Record, error) {
	if f.insertErr != nil {
		return Record{}, f.insertErr
	}
	rec := Record{ID: uuid.NewString(), UserID: userID, PhotoPath: photoPath, CreatedAt: time.Now().UTC()}
	f.checkins = append(f.checkins, rec)
	return rec, nil
}

func (f *fakeStore) CheckinsSince(_ context.Context, userID string, since time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, rec := range f.checkins {
		if rec.UserID == userID && !rec.CreatedAt.Before(since) {
			out = append(out, rec.CreatedAt)
		}
	}
	return out, nil
}

func (f *fakeStore) ListJoined(_ context.Context, _ string, _ int) ([]JoinedRecord, error) {
	var out []JoinedRecord
	for i := len(f.checkins) - 1; i >= 0; i-- {
		rec := f.checkins[i]
		u := f.users[rec.UserID]
		out = append(out, JoinedRecord{
			CheckinID: rec.ID, UserID: rec.UserID, UserName: u.Name,
			PhotoPath: rec.PhotoPath, CreatedAt: rec.CreatedAt,
		})
	}
	return out, nil
}

type fakeBlobs struct {
	uploads   map[string][]byte
	uploadErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{uploads: make(map[string][]byte)}
}

func (f *fakeBlobs) Upload(_ context.Context, path string, data []byte, _ string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads[path] = data
	return nil
}

func (f *fakeBlobs) PublicURL(path string) string {
	return "https://blob.test/" + path
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x), A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newTestService(store *fakeStore, blobs *fakeBlobs) *Service {
	loc := time.FixedZone("BRT", -3*3600)
	guard := NewGuard(CooldownPolicy{Cooldown: 30 * time.Minute}, store, loc)
	return NewService(store, blobs, guard, loc)
}

func TestRegisterUserRequiresName(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeBlobs())
	_, err := svc.RegisterUser(context.Background(), "   ", nil, nil, nil)
	require.ErrorIs(t, err, ErrNameRequired)
}

func TestRegisterUserUpsertsByEmail(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeBlobs())
	email := "Ana@X.com"

	first, err := svc.RegisterUser(context.Background(), "Ana Silva", nil, nil, &email)
	require.NoError(t, err)
	second, err := svc.RegisterUser(context.Background(), "Ana S. Oliveira", nil, nil, &email)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Len(t, store.users, 1)
	require.Equal(t, "Ana S. Oliveira", store.users[first.ID].Name)
	require.Equal(t, "ana@x.com", *store.users[first.ID].Email)
}

func TestCheckInStoresPhotoThenRow(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	svc := newTestService(store, blobs)

	user, err := svc.RegisterUser(context.Background(), "Ana Silva", nil, nil, nil)
	require.NoError(t, err)

	rec, err := svc.CheckIn(context.Background(), user.ID, jpegBytes(t, 64, 48))
	require.NoError(t, err)
	require.Equal(t, user.ID, rec.UserID)
	require.True(t, IsObjectPath(rec.PhotoPath))
	require.True(t, strings.HasPrefix(rec.PhotoPath, user.ID+"/"))
	require.Contains(t, blobs.uploads, rec.PhotoPath)
	require.Len(t, store.checkins, 1)
}

func TestCheckInRejectsSecondWithinCooldown(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, newFakeBlobs())

	user, err := svc.RegisterUser(context.Background(), "Ana Silva", nil, nil, nil)
	require.NoError(t, err)

	_, err = svc.CheckIn(context.Background(), user.ID, jpegBytes(t, 64, 48))
	require.NoError(t, err)

	_, err = svc.CheckIn(context.Background(), user.ID, jpegBytes(t, 64, 48))
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	require.Len(t, store.checkins, 1)
}

func TestCheckInUnknownUser(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeBlobs())
	_, err := svc.CheckIn(context.Background(), "nope", jpegBytes(t, 8, 8))
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestCheckInRejectsMalformedImage(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	svc := newTestService(store, blobs)

	user, err := svc.RegisterUser(context.Background(), "Ana Silva", nil, nil, nil)
	require.NoError(t, err)

	_, err = svc.CheckIn(context.Background(), user.ID, []byte("not an image"))
	require.Error(t, err)
	require.Empty(t, blobs.uploads)
	require.Empty(t, store.checkins)
}

func TestCheckInUploadFailureLeavesNoRow(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	blobs.uploadErr = errors.New("storage down")
	svc := newTestService(store, blobs)

	user, err := svc.RegisterUser(context.Background(), "Ana Silva", nil, nil, nil)
	require.NoError(t, err)

	_, err = svc.CheckIn(context.Background(), user.ID, jpegBytes(t, 64, 48))
	require.Error(t, err)
	require.Empty(t, store.checkins)
}

func TestCheckInInsertFailureLeavesOrphanedBlobOnly(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("db down")
	blobs := newFakeBlobs()
	svc := newTestService(store, blobs)

	user, err := svc.RegisterUser(context.Background(), "Ana Silva", nil, nil, nil)
	require.NoError(t, err)

	_, err = svc.CheckIn(context.Background(), user.ID, jpegBytes(t, 64, 48))
	require.Error(t, err)
	// The blob stayed behind, unreferenced; nothing points at it.
	require.Len(t, blobs.uploads, 1)
	require.Empty(t, store.checkins)
}

func TestGroupedListResolvesPublicURLs(t *testing.T) {
	store := newFakeStore()
	blobs := newFakeBlobs()
	svc := newTestService(store, blobs)

	user, err := svc.RegisterUser(context.Background(), "Ana Silva", nil, nil, nil)
	require.NoError(t, err)
	rec, err := svc.CheckIn(context.Background(), user.ID, jpegBytes(t, 64, 48))
	require.NoError(t, err)

	groups, err := svc.GroupedList(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	entry := groups[0].Days[0].Entries[0]
	require.Equal(t, "https://blob.test/"+rec.PhotoPath, entry.PhotoURL)
}
