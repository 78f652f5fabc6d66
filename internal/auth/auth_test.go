package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-checkin/internal/logger"
)

var testSecret = []byte("test-secret")

func TestCapabilitiesPerRole(t *testing.T) {
	tests := []struct {
		role Role
		can  []Capability
		not  []Capability
	}{
		{RoleAttendee, []Capability{CanBrowse, CanHoldTickets}, []Capability{CanScanTickets, CanManageEvents}},
		{RoleOrganizer, []Capability{CanManageEvents, CanRevokeTickets}, []Capability{CanScanTickets, CanHoldTickets}},
		{RoleStaff, []Capability{CanScanTickets, CanOverrideReentry}, []Capability{CanManageEvents, CanRevokeTickets}},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			id := Identity{UserID: "u1", Role: tt.role}
			for _, c := range tt.can {
				assert.True(t, id.Can(c), "%s should %s", tt.role, c)
			}
			for _, c := range tt.not {
				assert.False(t, id.Can(c), "%s should not %s", tt.role, c)
			}
		})
	}

	assert.False(t, Identity{UserID: "u1"}.Can(CanBrowse), "no role, no capabilities")
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole(" Staff ")
	assert.True(t, ok)
	assert.Equal(t, RoleStaff, r)

	_, ok = ParseRole("admin")
	assert.False(t, ok)
}

func TestHS256RoundTrip(t *testing.T) {
	v := &HS256Verifier{Secret: testSecret}
	token, err := SignToken(testSecret, Identity{UserID: "staff-1", Name: "Sam", Role: RoleStaff}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "staff-1", id.UserID)
	assert.Equal(t, "Sam", id.DisplayName())
	assert.Equal(t, RoleStaff, id.Role)
}

func TestHS256Rejects(t *testing.T) {
	v := &HS256Verifier{Secret: testSecret}

	// Test case: wrong secret
	token, err := SignToken([]byte("other"), Identity{UserID: "u1", Role: RoleStaff}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), token)
	assert.Error(t, err)

	// Test case: expired
	token, err = SignToken(testSecret, Identity{UserID: "u1", Role: RoleStaff}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), token)
	assert.Error(t, err)

	// Test case: unknown role
	token, err = SignToken(testSecret, Identity{UserID: "u1", Role: "admin"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), token)
	assert.Error(t, err)

	// Test case: no expiry at all
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "role": "staff"}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), raw)
	assert.Error(t, err)

	_, err = v.Verify(context.Background(), "")
	assert.Error(t, err)
}

func TestExtractTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := ExtractTokenFromRequest(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "Token abc")
	_, err = ExtractTokenFromRequest(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "bearer abc")
	token, err := ExtractTokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func protected(c Capability) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := FromContext(r.Context())
		w.Write([]byte(id.UserID))
	})
	return Middleware(&HS256Verifier{Secret: testSecret}, logger.NewWithWriter(io.Discard))(Require(c)(ok))
}

func TestMiddlewareAndRequire(t *testing.T) {
	h := protected(CanScanTickets)

	// Test case: missing token
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/checkin/scan", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Test case: attendee cannot scan
	token, _ := SignToken(testSecret, Identity{UserID: "user-1", Role: RoleAttendee}, time.Hour)
	req := httptest.NewRequest(http.MethodPost, "/api/checkin/scan", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Test case: staff can scan
	token, _ = SignToken(testSecret, Identity{UserID: "staff-1", Role: RoleStaff}, time.Hour)
	req = httptest.NewRequest(http.MethodPost, "/api/checkin/scan", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "staff-1", rec.Body.String())
}

func TestRequireWithoutMiddleware(t *testing.T) {
	h := Require(CanBrowse)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, raw string) (Identity, error) {
	args := m.Called(ctx, raw)
	return args.Get(0).(Identity), args.Error(1)
}

func TestCachingVerifier(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := new(MockVerifier)
	staff := Identity{UserID: "staff-1", Role: RoleStaff}
	next.On("Verify", mock.Anything, "good").Return(staff, nil).Once()
	next.On("Verify", mock.Anything, "bad").Return(Identity{}, errors.New("invalid token"))

	v := NewCachingVerifier(next, client, logger.NewWithWriter(io.Discard))
	ctx := context.Background()

	// Test case: first call verifies, second is served from Redis
	id, err := v.Verify(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, staff, id)
	id, err = v.Verify(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, staff, id)
	next.AssertNumberOfCalls(t, "Verify", 1)

	assert.True(t, mr.Exists(cacheKey("good")))
	assert.False(t, mr.Exists(identityKeyPrefix+"good"), "raw tokens are never stored as keys")

	// Test case: failures are not cached
	_, err = v.Verify(ctx, "bad")
	assert.Error(t, err)
	_, err = v.Verify(ctx, "bad")
	assert.Error(t, err)
	next.AssertNumberOfCalls(t, "Verify", 3)

	// Test case: expired cache entry is verified again
	mr.FastForward(DefaultIdentityTTL + time.Second)
	next.On("Verify", mock.Anything, "good").Return(staff, nil).Once()
	_, err = v.Verify(ctx, "good")
	require.NoError(t, err)
	next.AssertNumberOfCalls(t, "Verify", 4)
}

func TestCachingVerifierHonoursTokenExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	staff := Identity{UserID: "staff-1", Role: RoleStaff}
	token, err := SignToken(testSecret, staff, time.Minute)
	require.NoError(t, err)

	next := new(MockVerifier)
	next.On("Verify", mock.Anything, token).Return(staff, nil).Once()
	next.On("Verify", mock.Anything, token).Return(Identity{}, errors.New("token has invalid claims: token is expired"))

	v := NewCachingVerifier(next, client, logger.NewWithWriter(io.Discard))
	ctx := context.Background()

	// Test case: the cache entry lives no longer than the token
	id, err := v.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, staff, id)
	ttl := mr.TTL(cacheKey(token))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	// Test case: once the token has expired the cached identity is not trusted
	v.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = v.Verify(ctx, token)
	assert.Error(t, err)
	assert.False(t, mr.Exists(cacheKey(token)), "stale entries are dropped")
	next.AssertNumberOfCalls(t, "Verify", 2)

	// Test case: a token already past its expiry is never cached
	late := new(MockVerifier)
	late.On("Verify", mock.Anything, token).Return(staff, nil)
	v = NewCachingVerifier(late, client, logger.NewWithWriter(io.Discard))
	v.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = v.Verify(ctx, token)
	require.NoError(t, err)
	assert.False(t, mr.Exists(cacheKey(token)))
}

func TestCachingVerifierRejectsExpiredHS256Token(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real token to expire")
	}
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	token, err := SignToken(testSecret, Identity{UserID: "staff-1", Role: RoleStaff}, 2*time.Second)
	require.NoError(t, err)

	v := NewCachingVerifier(&HS256Verifier{Secret: testSecret}, client, logger.NewWithWriter(io.Discard))
	ctx := context.Background()
	_, err = v.Verify(ctx, token)
	require.NoError(t, err)

	// exp has second precision, so the token is gone within 2s
	time.Sleep(3100 * time.Millisecond)

	_, err = v.Verify(ctx, token)
	assert.Error(t, err, "an expired token must not pass on a cached identity")
}

func TestAuthorize(t *testing.T) {
	organizer := Identity{UserID: "org-1", Role: RoleOrganizer}

	assert.NoError(t, organizer.Authorize(CanManageEvents))

	err := organizer.Authorize(CanScanTickets)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Contains(t, err.Error(), "scan_tickets")
}

func TestOptionalMiddleware(t *testing.T) {
	h := Optional(&HS256Verifier{Secret: testSecret}, logger.NewWithWriter(io.Discard))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				_, _ = w.Write([]byte("anonymous"))
				return
			}
			_, _ = w.Write([]byte(id.UserID))
		}))

	// Test case: no token passes through anonymously
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	assert.Equal(t, "anonymous", rec.Body.String())

	// Test case: a valid token is resolved
	token, _ := SignToken(testSecret, Identity{UserID: "org-1", Role: RoleOrganizer}, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "org-1", rec.Body.String())

	// Test case: a bad token is still refused
	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
