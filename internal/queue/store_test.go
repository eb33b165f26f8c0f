package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTripDropsDerivedFields(t *testing.T) {
	wait := 12
	confirmed := testNow.Add(5 * time.Minute)
	in := Entry{
		AppointmentID:     "A",
		PatientID:         "p-1",
		DoctorID:          "doc-1",
		LocationID:        "north",
		Status:            StatusConfirmed,
		Priority:          2,
		CheckedInAt:       testNow,
		ConfirmedAt:       &confirmed,
		ActualWaitTime:    &wait,
		Position:          4,
		EstimatedWaitTime: 60,
	}
	raw, err := EncodeEntry(in)
	require.NoError(t, err)

	out, err := DecodeEntry(raw)
	require.NoError(t, err)
	assert.Zero(t, out.Position)
	assert.Zero(t, out.EstimatedWaitTime)
	assert.Equal(t, in.AppointmentID, out.AppointmentID)
	assert.True(t, out.CheckedInAt.Equal(in.CheckedInAt))
	assert.True(t, out.ConfirmedAt.Equal(*in.ConfirmedAt))
	assert.Equal(t, 12, *out.ActualWaitTime)
	assert.Equal(t, StatusConfirmed, out.Status)
}

func TestCodec_RejectsCorruptEntries(t *testing.T) {
	for _, raw := range []string{
		"not json",
		`{"v":2,"aid":"A"}`,
		`{"v":1}`,
	} {
		_, err := DecodeEntry(raw)
		assert.ErrorIs(t, err, ErrCorruptEntry, raw)
	}
	_, err := EncodeEntry(Entry{})
	assert.ErrorIs(t, err, ErrCorruptEntry)
}

func TestKey_ParseRoundTrip(t *testing.T) {
	k, err := NewKey("acme", "doc-1", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, "queue:acme:doc-1:2026-10-19", k.String())

	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	_, err = NewKey("ac:me", "doc-1", "2026-10-19")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = ParseKey("waitlist:acme")
	assert.Error(t, err)
}

func TestRedisStore_Append(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, time.Hour)
	e := Entry{AppointmentID: "A", DoctorID: "doc-1", Status: StatusWaiting, CheckedInAt: testNow}
	raw, err := EncodeEntry(e)
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectRPush(testKey.String(), raw).SetVal(1)
	mock.ExpectExpire(testKey.String(), time.Hour).SetVal(true)
	mock.ExpectSAdd("queueidx:acme", testKey.String()).SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, s.Append(context.Background(), testKey, e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ReplaceWithEmptyListDropsIndex(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, time.Hour)

	mock.ExpectTxPipeline()
	mock.ExpectDel(testKey.String()).SetVal(1)
	mock.ExpectSRem("queueidx:acme", testKey.String()).SetVal(1)
	mock.ExpectHDel("queueappt:acme", "A").SetVal(1)
	mock.ExpectTxPipelineExec()

	require.NoError(t, s.Replace(context.Background(), testKey, nil, Changes{Released: []string{"A"}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ReplaceCountsCompletionInSameTransaction(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, time.Hour)
	raw, err := EncodeEntry(Entry{AppointmentID: "B", Status: StatusWaiting, CheckedInAt: testNow})
	require.NoError(t, err)

	mock.ExpectTxPipeline()
	mock.ExpectDel(testKey.String()).SetVal(1)
	mock.ExpectRPush(testKey.String(), raw).SetVal(1)
	mock.ExpectExpire(testKey.String(), time.Hour).SetVal(true)
	mock.ExpectSAdd("queueidx:acme", testKey.String()).SetVal(0)
	mock.ExpectHDel("queueappt:acme", "A").SetVal(1)
	mock.ExpectHIncrBy("queuedone:acme", "north", 1).SetVal(1)
	mock.ExpectTxPipelineExec()

	err = s.Replace(context.Background(), testKey, []Entry{{AppointmentID: "B", Status: StatusWaiting, CheckedInAt: testNow}},
		Changes{Released: []string{"A"}, Completed: "north"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Reclaim(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, time.Hour)
	ctx := context.Background()
	stale := Key{Tenant: "acme", DoctorID: "doc-1", Date: "2026-10-18"}

	mock.ExpectEvalSha(reclaimScript.Hash(), []string{"queueappt:acme"}, "A", stale.String(), testKey.String()).SetVal(int64(1))
	ok, err := s.Reclaim(ctx, testKey, "A", stale)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectEvalSha(reclaimScript.Hash(), []string{"queueappt:acme"}, "A", stale.String(), testKey.String()).SetVal(int64(0))
	ok, err = s.Reclaim(ctx, testKey, "A", stale)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Range(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, time.Hour)
	raw, err := EncodeEntry(Entry{AppointmentID: "A", Status: StatusWaiting})
	require.NoError(t, err)

	mock.ExpectLRange(testKey.String(), 0, -1).SetVal([]string{raw})
	entries, err := s.Range(context.Background(), testKey, 0, -1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].AppointmentID)

	mock.ExpectLRange(testKey.String(), 0, -1).SetVal([]string{"garbage"})
	_, err = s.Range(context.Background(), testKey, 0, -1)
	assert.ErrorIs(t, err, ErrCorruptEntry)

	mock.ExpectLRange(testKey.String(), 0, -1).SetErr(errors.New("connection reset"))
	_, err = s.Range(context.Background(), testKey, 0, -1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, Retryable(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ClaimAndLookup(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, time.Hour)
	ctx := context.Background()

	mock.ExpectHSetNX("queueappt:acme", "A", testKey.String()).SetVal(true)
	mock.ExpectExpire("queueappt:acme", time.Hour).SetVal(true)
	ok, err := s.Claim(ctx, testKey, "A")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectHSetNX("queueappt:acme", "A", testKey.String()).SetVal(false)
	ok, err = s.Claim(ctx, testKey, "A")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectHGet("queueappt:acme", "A").SetVal(testKey.String())
	k, found, err := s.Lookup(ctx, "acme", "A")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, testKey, k)

	mock.ExpectHGet("queueappt:acme", "B").RedisNil()
	_, found, err = s.Lookup(ctx, "acme", "B")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Keys(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, time.Hour)

	mock.ExpectSMembers("queueidx:acme").SetVal([]string{testKey.String(), "bogus"})
	keys, err := s.Keys(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, []Key{testKey}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Completed(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore(db, time.Hour)
	ctx := context.Background()

	mock.ExpectHGet("queuedone:acme", "north").SetVal("3")
	n, err := s.Completed(ctx, "acme", "north")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mock.ExpectHGet("queuedone:acme", "south").RedisNil()
	n, err = s.Completed(ctx, "acme", "south")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreErr_ClassifiesTimeouts(t *testing.T) {
	err := storeErr("range", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrStoreTimeout)

	err = storeErr("range", errors.New("EOF"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestApplyOrder(t *testing.T) {
	current := []Entry{{AppointmentID: "A"}, {AppointmentID: "B"}}
	out, err := applyOrder(current, []string{"B", "A"})
	require.NoError(t, err)
	assert.Equal(t, "B", out[0].AppointmentID)

	_, err = applyOrder(current, []string{"B", "B"})
	assert.ErrorIs(t, err, ErrInvalidReorder)
}
