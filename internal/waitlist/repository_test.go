package waitlist

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(id string, created time.Time) Entry {
	return Entry{
		ID:            id,
		PatientID:     "pat-1",
		DoctorID:      "doc-1",
		ClinicID:      "north",
		PreferredDate: "2026-10-20",
		Priority:      PriorityHigh,
		Status:        StatusWaiting,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestRedisRepository_Create(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepository(db)
	e := sampleEntry("wl-1", time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	data, err := json.Marshal(e)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectSet("waitlist:acme:entry:wl-1", data, 0).SetVal("OK")
	mock.ExpectZAdd("waitlist:acme:entries", redis.Z{Score: float64(e.CreatedAt.UnixNano()), Member: "wl-1"}).SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, repo.Create(context.Background(), "acme", e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRepository_Get(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepository(db)
	e := sampleEntry("wl-1", time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	data, err := json.Marshal(e)
	require.NoError(t, err)

	mock.ExpectGet("waitlist:acme:entry:wl-1").SetVal(string(data))
	got, err := repo.Get(context.Background(), "acme", "wl-1")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt))

	mock.ExpectGet("waitlist:acme:entry:wl-2").RedisNil()
	_, err = repo.Get(context.Background(), "acme", "wl-2")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	mock.ExpectGet("waitlist:acme:entry:wl-3").SetErr(errors.New("i/o timeout"))
	_, err = repo.Get(context.Background(), "acme", "wl-3")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRepository_SaveMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepository(db)
	e := sampleEntry("wl-1", time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	data, err := json.Marshal(e)
	require.NoError(t, err)

	mock.ExpectSetXX("waitlist:acme:entry:wl-1", data, 0).SetVal(false)

	assert.ErrorIs(t, repo.Save(context.Background(), "acme", e), ErrEntryNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRepository_ListSkipsDanglingIndexMembers(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepository(db)
	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	first, err := json.Marshal(sampleEntry("wl-1", base))
	require.NoError(t, err)
	second, err := json.Marshal(sampleEntry("wl-3", base.Add(time.Minute)))
	require.NoError(t, err)

	mock.ExpectZRange("waitlist:acme:entries", 0, -1).SetVal([]string{"wl-1", "wl-2", "wl-3"})
	mock.ExpectMGet("waitlist:acme:entry:wl-1", "waitlist:acme:entry:wl-2", "waitlist:acme:entry:wl-3").
		SetVal([]interface{}{string(first), nil, string(second)})

	entries, err := repo.List(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "wl-1", entries[0].ID)
	assert.Equal(t, "wl-3", entries[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRepository_ListEmpty(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepository(db)

	mock.ExpectZRange("waitlist:acme:entries", 0, -1).SetVal([]string{})

	entries, err := repo.List(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}
