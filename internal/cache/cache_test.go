package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/singleflight"
)

type view struct {
	DoctorID string   `json:"doctor_id"`
	IDs      []string `json:"ids"`
}

func TestRedisCache_GetMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db)

	mock.ExpectGet("queueview:acme:doc-1:2026-10-19").RedisNil()

	var v view
	hit, err := c.Get(context.Background(), "queueview:acme:doc-1:2026-10-19", &v)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_GetHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db)

	mock.ExpectGet("k").SetVal(`{"doctor_id":"doc-1","ids":["a","b"]}`)

	var v view
	hit, err := c.Get(context.Background(), "k", &v)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, view{DoctorID: "doc-1", IDs: []string{"a", "b"}}, v)
}

func TestRedisCache_SetIfGeneration(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db)
	ctx := context.Background()
	data := `{"doctor_id":"doc-1","ids":null}`

	mock.ExpectGet("k#gen").RedisNil()
	gen, err := c.Generation(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, gen)

	mock.ExpectEvalSha(setIfGenerationScript.Hash(), []string{"k", "k#gen"}, "0", data, int64(60000)).SetVal(int64(1))
	stored, err := c.SetIfGeneration(ctx, "k", 0, view{DoctorID: "doc-1"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	mock.ExpectGet("k#gen").SetVal("3")
	gen, err = c.Generation(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), gen)

	mock.ExpectEvalSha(setIfGenerationScript.Hash(), []string{"k", "k#gen"}, "2", data, int64(60000)).SetVal(int64(0))
	stored, err = c.SetIfGeneration(ctx, "k", 2, view{DoctorID: "doc-1"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_DeleteBumpsGenerations(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db)

	mock.ExpectTxPipeline()
	mock.ExpectDel("k", "k2").SetVal(2)
	mock.ExpectIncr("k#gen").SetVal(1)
	mock.ExpectExpire("k#gen", generationTTL).SetVal(true)
	mock.ExpectIncr("k2#gen").SetVal(4)
	mock.ExpectExpire("k2#gen", generationTTL).SetVal(true)
	mock.ExpectTxPipelineExec()

	require.NoError(t, c.Delete(context.Background(), "k", "k2"))
	require.NoError(t, c.Delete(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch_LoadsOnceThenHits(t *testing.T) {
	c := NewMemory()
	var group singleflight.Group
	loads := 0
	load := func(context.Context) (view, error) {
		loads++
		return view{DoctorID: "doc-1", IDs: []string{"a"}}, nil
	}

	first, err := Fetch(context.Background(), c, &group, "k", time.Minute, load)
	require.NoError(t, err)
	second, err := Fetch(context.Background(), c, &group, "k", time.Minute, load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, loads)
}

func TestFetch_LoaderErrorNotCached(t *testing.T) {
	c := NewMemory()
	var group singleflight.Group
	boom := errors.New("store down")

	_, err := Fetch(context.Background(), c, &group, "k", time.Minute, func(context.Context) (view, error) {
		return view{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Has("k"))
}

func TestFetch_InvalidationDuringLoadIsNotOverwritten(t *testing.T) {
	c := NewMemory()
	var group singleflight.Group
	ctx := context.Background()

	// the value is read, then a writer commits and invalidates before the load returns
	got, err := Fetch(ctx, c, &group, "k", time.Minute, func(ctx context.Context) (view, error) {
		require.NoError(t, c.Delete(ctx, "k"))
		return view{IDs: []string{"old"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, got.IDs)
	assert.False(t, c.Has("k"))

	got, err = Fetch(ctx, c, &group, "k", time.Minute, func(context.Context) (view, error) {
		return view{IDs: []string{"new"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, got.IDs)
	assert.True(t, c.Has("k"))
}

func TestMemory_Expiry(t *testing.T) {
	c := NewMemory()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	stored, err := c.SetIfGeneration(context.Background(), "k", 0, 1, time.Minute)
	require.NoError(t, err)
	require.True(t, stored)
	assert.True(t, c.Has("k"))

	now = now.Add(time.Minute)
	assert.False(t, c.Has("k"))
}
