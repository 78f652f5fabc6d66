package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkin/internal/models"
	"ms-checkin/internal/registry"
	"ms-checkin/internal/registry/registrytest"
)

func TestMemoryRegistry(t *testing.T) {
	registrytest.Run(t, func(t *testing.T) registry.Registry {
		return registry.NewMemory()
	})
}

func TestMemoryUsesClock(t *testing.T) {
	fixed := time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC)
	r := registry.NewMemory(registry.WithClock(func() time.Time { return fixed }))
	ev := registrytest.NewEvent(t, r, "TC", 2)
	tk := registrytest.Issue(t, r, ev.ID, models.Holder{ID: "user-1", Name: "Alice"})

	assert.Equal(t, fixed, ev.CreatedAt)
	assert.Equal(t, fixed, tk.IssuedAt)

	rec, err := r.MarkCheckedIn(context.Background(), tk.Number, tk.Number, "staff-1", "Main")
	require.NoError(t, err)
	assert.Equal(t, fixed, rec.ScannedAt)
}

func TestMemoryLookupReturnsCopy(t *testing.T) {
	ctx := context.Background()
	r := registry.NewMemory()
	ev := registrytest.NewEvent(t, r, "TC", 2)
	tk := registrytest.Issue(t, r, ev.ID, models.Holder{ID: "user-1", Name: "Alice"})

	got, err := r.Lookup(ctx, tk.Number)
	require.NoError(t, err)
	got.State = models.StateRevoked

	again, err := r.Lookup(ctx, tk.Number)
	require.NoError(t, err)
	assert.Equal(t, models.StateUnused, again.State)
}

func TestRecordAttemptTruncatesCode(t *testing.T) {
	r := registry.NewMemory()
	ev := registrytest.NewEvent(t, r, "TC", 2)
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'A'
	}

	rec, err := r.RecordAttempt(context.Background(), models.ScanRecord{
		Code:           string(long),
		EventID:        ev.ID,
		Classification: models.ClassInvalid,
		Reason:         models.ReasonMalformedCode,
		GateID:         "Main",
	})
	require.NoError(t, err)
	assert.Len(t, rec.Code, models.MaxScannedCodeLength)
}

func TestIsBusiness(t *testing.T) {
	assert.True(t, registry.IsBusiness(registry.ErrNotFound))
	assert.True(t, registry.IsBusiness(&registry.AlreadyCheckedInError{}))
	assert.False(t, registry.IsBusiness(registry.Storage("lookup", context.DeadlineExceeded)))
	assert.False(t, registry.IsBusiness(nil))
}

func TestNumbers(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "TC2024-001234", registry.FormatNumber("TC", start, 1234))
	assert.True(t, registry.ValidNumber("TC-001"))
	assert.True(t, registry.ValidNumber("TC2024-001234"))
	assert.False(t, registry.ValidNumber("tc-001"))
	assert.False(t, registry.ValidNumber("TC001"))
	assert.False(t, registry.ValidNumber(""))
	assert.Equal(t, "TC-001", registry.NormalizeCode("  tc-001\n"))
}
