package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), Params{DB: filepath.Join(t.TempDir(), "queue.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func replayAll(t *testing.T, st *Store) map[string]Job {
	t.Helper()
	res := map[string]Job{}
	err := st.Replay(context.Background(), func(job Job) error {
		res[job.Unique] = job
		return nil
	})
	require.NoError(t, err)
	return res
}

func TestOpen(t *testing.T) {
	t.Run("default table created", func(t *testing.T) {
		st := prepStore(t)
		assert.Equal(t, DefaultTable, st.Table())

		var count int
		err := st.db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='gearman_queue'")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("custom table", func(t *testing.T) {
		st, err := Open(context.Background(), Params{DB: filepath.Join(t.TempDir(), "q.db"), Table: "jobs_q"})
		require.NoError(t, err)
		defer st.Close()
		assert.Equal(t, "jobs_q", st.Table())
		require.NoError(t, st.Add(context.Background(), "k1", "f1", PriorityLow, []byte("d")))
		assert.Len(t, replayAll(t, st), 1)
	})

	t.Run("missing db", func(t *testing.T) {
		st, err := Open(context.Background(), Params{})
		assert.ErrorIs(t, err, ErrConfig)
		assert.Nil(t, st)
	})

	t.Run("table name too long", func(t *testing.T) {
		st, err := Open(context.Background(), Params{DB: filepath.Join(t.TempDir(), "q.db"),
			Table: string(bytes.Repeat([]byte("t"), MaxTableLen+1))})
		assert.ErrorIs(t, err, ErrConfig)
		assert.Nil(t, st)
	})

	t.Run("invalid path", func(t *testing.T) {
		st, err := Open(context.Background(), Params{DB: "/invalid/path/that/does/not/exist/test.db"})
		assert.ErrorIs(t, err, ErrOpen)
		assert.Nil(t, st)
	})

	t.Run("table matched ignoring case", func(t *testing.T) {
		dbFile := filepath.Join(t.TempDir(), "q.db")
		db, err := sqlx.Open("sqlite", dbFile)
		require.NoError(t, err)
		_, err = db.Exec("CREATE TABLE GEARMAN_QUEUE (unique_key TEXT PRIMARY KEY, function_name TEXT, priority INTEGER, data BLOB)")
		require.NoError(t, err)
		_, err = db.Exec("INSERT INTO GEARMAN_QUEUE VALUES ('k1', 'f1', 0, x'0102')")
		require.NoError(t, err)
		require.NoError(t, db.Close())

		st, err := Open(context.Background(), Params{DB: dbFile})
		require.NoError(t, err)
		defer st.Close()
		assert.Equal(t, "GEARMAN_QUEUE", st.Table())

		var count int
		require.NoError(t, st.db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table'"))
		assert.Equal(t, 1, count, "no duplicate table created")

		jobs := replayAll(t, st)
		require.Len(t, jobs, 1)
		assert.Equal(t, Job{Unique: "k1", Function: "f1", Priority: PriorityHigh, Data: []byte{1, 2}}, jobs["k1"])
	})

	t.Run("reopen keeps jobs", func(t *testing.T) {
		dbFile := filepath.Join(t.TempDir(), "q.db")
		st, err := Open(context.Background(), Params{DB: dbFile})
		require.NoError(t, err)
		require.NoError(t, st.Add(context.Background(), "k1", "f1", PriorityNormal, []byte("payload")))
		require.NoError(t, st.Close())

		st, err = Open(context.Background(), Params{DB: dbFile})
		require.NoError(t, err)
		defer st.Close()
		jobs := replayAll(t, st)
		require.Len(t, jobs, 1)
		assert.Equal(t, []byte("payload"), jobs["k1"].Data)
	})

	t.Run("schema failure closes db", func(t *testing.T) {
		dbFile := filepath.Join(t.TempDir(), "q.db")
		db, err := sqlx.Open("sqlite", dbFile)
		require.NoError(t, err)
		// an index with the same name prevents table creation
		_, err = db.Exec("CREATE TABLE other (id INTEGER)")
		require.NoError(t, err)
		_, err = db.Exec("CREATE INDEX gearman_queue ON other(id)")
		require.NoError(t, err)
		require.NoError(t, db.Close())

		st, err := Open(context.Background(), Params{DB: dbFile})
		assert.ErrorIs(t, err, ErrSchema)
		assert.Nil(t, st)
	})
}

func TestStore_AddReplayDone(t *testing.T) {
	st := prepStore(t)
	ctx := context.Background()

	require.NoError(t, st.Add(ctx, "job-1", "reverse", PriorityHigh, []byte{0x00, 0x01, 0xFF}))

	jobs := replayAll(t, st)
	require.Len(t, jobs, 1)
	assert.Equal(t, Job{Unique: "job-1", Function: "reverse", Priority: PriorityHigh, Data: []byte{0x00, 0x01, 0xFF}},
		jobs["job-1"])

	require.NoError(t, st.Done(ctx, "job-1", "reverse"))
	assert.Empty(t, replayAll(t, st))
	assert.Equal(t, txIdle, st.tx.state)
}

func TestStore_AddRoundTrip(t *testing.T) {
	st := prepStore(t)
	ctx := context.Background()

	allBytes := make([]byte, 256)
	for i := range allBytes {
		allBytes[i] = byte(i)
	}

	tbl := []struct {
		unique, function string
		priority         Priority
		data             []byte
	}{
		{"k-empty", "fn", PriorityLow, []byte{}},
		{"k-nil", "fn", PriorityNormal, nil},
		{"k-all-bytes", "fn.all", PriorityHigh, allBytes},
		{"k-zeros", "fn", PriorityNormal, []byte{0, 0, 0, 0}},
		{"k-text", "функция", PriorityLow, []byte("some text\n")},
		{"ключ", "", PriorityHigh, []byte{0xFF}},
	}

	for _, tt := range tbl {
		require.NoError(t, st.Add(ctx, tt.unique, tt.function, tt.priority, tt.data), tt.unique)
	}

	jobs := replayAll(t, st)
	require.Len(t, jobs, len(tbl))
	for _, tt := range tbl {
		job, ok := jobs[tt.unique]
		require.True(t, ok, tt.unique)
		assert.Equal(t, tt.function, job.Function, tt.unique)
		assert.Equal(t, tt.priority, job.Priority, tt.unique)
		exp := tt.data
		if exp == nil {
			exp = []byte{}
		}
		assert.Equal(t, exp, job.Data, tt.unique)
	}
}

func TestStore_AddGrowingPayload(t *testing.T) {
	st := prepStore(t)
	ctx := context.Background()

	small := []byte("abc")
	large := bytes.Repeat([]byte{0xAB, 0x00, 0xCD}, 100_000)

	require.NoError(t, st.Add(ctx, "small", "fn", PriorityNormal, small))
	capSmall := st.qbuf.capacity()
	require.NoError(t, st.Add(ctx, "large", "fn", PriorityNormal, large))
	assert.Greater(t, st.qbuf.capacity(), capSmall)

	require.NoError(t, st.Add(ctx, "small2", "fn", PriorityNormal, small))
	assert.GreaterOrEqual(t, st.qbuf.capacity(), querySize(len("large"), len("fn"), len(large)), "never shrinks")

	jobs := replayAll(t, st)
	require.Len(t, jobs, 3)
	assert.Equal(t, small, jobs["small"].Data)
	assert.Equal(t, large, jobs["large"].Data)
	assert.Equal(t, small, jobs["small2"].Data)
}

func TestStore_AddDuplicate(t *testing.T) {
	st := prepStore(t)
	ctx := context.Background()

	require.NoError(t, st.Add(ctx, "k1", "f1", PriorityHigh, []byte("first")))
	err := st.Add(ctx, "k1", "f2", PriorityLow, []byte("second"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDriver)
	var drvErr *DriverError
	require.True(t, errors.As(err, &drvErr))
	assert.Equal(t, "insert", drvErr.Op)
	assert.Equal(t, txIdle, st.tx.state, "rolled back")

	jobs := replayAll(t, st)
	require.Len(t, jobs, 1)
	assert.Equal(t, Job{Unique: "k1", Function: "f1", Priority: PriorityHigh, Data: []byte("first")}, jobs["k1"])

	// store still usable
	require.NoError(t, st.Add(ctx, "k2", "f2", PriorityLow, nil))
	assert.Len(t, replayAll(t, st), 2)
}

func TestStore_AddInvalidPriority(t *testing.T) {
	st := prepStore(t)
	err := st.Add(context.Background(), "k1", "f1", Priority(42), nil)
	require.Error(t, err)
	assert.Equal(t, txIdle, st.tx.state)
	assert.Empty(t, replayAll(t, st))
}

func TestStore_DoneUnknown(t *testing.T) {
	st := prepStore(t)
	ctx := context.Background()

	require.NoError(t, st.Add(ctx, "k1", "f1", PriorityHigh, []byte("d")))
	require.NoError(t, st.Done(ctx, "never-added", "f1"))
	assert.Len(t, replayAll(t, st), 1)

	require.NoError(t, st.Done(ctx, "k1", "f1"))
	require.NoError(t, st.Done(ctx, "k1", "f1"), "second done is fine")
	assert.Empty(t, replayAll(t, st))
}

func TestStore_DoneRemovesOnlyGivenJob(t *testing.T) {
	st := prepStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, st.Add(ctx, k, "fn", PriorityNormal, []byte(k)))
	}
	require.NoError(t, st.Done(ctx, "b", ""))

	jobs := replayAll(t, st)
	assert.Len(t, jobs, 2)
	assert.Contains(t, jobs, "a")
	assert.Contains(t, jobs, "c")
	assert.NotContains(t, jobs, "b")
}

func TestStore_Flush(t *testing.T) {
	st := prepStore(t)
	ctx := context.Background()

	require.NoError(t, st.Add(ctx, "k1", "f1", PriorityHigh, []byte("d")))
	before := replayAll(t, st)
	require.NoError(t, st.Flush(ctx))
	require.NoError(t, st.Flush(ctx))
	assert.Equal(t, before, replayAll(t, st))
}

func TestStore_ReplayStopsOnError(t *testing.T) {
	st := prepStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, st.Add(ctx, k, "fn", PriorityNormal, nil))
	}

	errStop := errors.New("scheduler is full")
	calls := 0
	err := st.Replay(ctx, func(Job) error {
		calls++
		if calls == 2 {
			return errStop
		}
		return nil
	})
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, 2, calls, "remaining rows not visited")

	// replay leaves jobs in place and the cursor released
	assert.Len(t, replayAll(t, st), 4)
	require.NoError(t, st.Add(ctx, "e", "fn", PriorityNormal, nil))
}

func TestStore_ReplayOwnsData(t *testing.T) {
	st := prepStore(t)
	ctx := context.Background()

	require.NoError(t, st.Add(ctx, "a", "fn", PriorityNormal, []byte("aaaa")))
	require.NoError(t, st.Add(ctx, "b", "fn", PriorityNormal, []byte("bbbb")))

	var kept [][]byte
	require.NoError(t, st.Replay(ctx, func(job Job) error {
		kept = append(kept, job.Data)
		return nil
	}))
	require.Len(t, kept, 2)
	assert.ElementsMatch(t, [][]byte{[]byte("aaaa"), []byte("bbbb")}, kept)
}

func TestStore_ReplayInvalidPriority(t *testing.T) {
	st := prepStore(t)
	_, err := st.db.Exec("INSERT INTO gearman_queue VALUES ('k1', 'f1', 17, x'01')")
	require.NoError(t, err)

	jobs := replayAll(t, st)
	require.Len(t, jobs, 1)
	assert.Equal(t, PriorityNormal, jobs["k1"].Priority)
}

func TestStore_ReplayNullData(t *testing.T) {
	st := prepStore(t)
	_, err := st.db.Exec("INSERT INTO gearman_queue VALUES ('k1', 'f1', 2, NULL)")
	require.NoError(t, err)

	jobs := replayAll(t, st)
	require.Len(t, jobs, 1)
	assert.Equal(t, []byte{}, jobs["k1"].Data)
	assert.Equal(t, PriorityLow, jobs["k1"].Priority)
}

func TestStore_ReplayNullText(t *testing.T) {
	st := prepStore(t)
	_, err := st.db.Exec("INSERT INTO gearman_queue VALUES ('k1', NULL, 1, x'01')")
	require.NoError(t, err)
	_, err = st.db.Exec("INSERT INTO gearman_queue VALUES (NULL, 'f2', 0, NULL)")
	require.NoError(t, err)

	jobs := replayAll(t, st)
	require.Len(t, jobs, 2, "no job dropped")
	assert.Equal(t, Job{Unique: "k1", Function: "", Priority: PriorityNormal, Data: []byte{0x01}}, jobs["k1"])
	assert.Equal(t, Job{Unique: "", Function: "f2", Priority: PriorityHigh, Data: []byte{}}, jobs[""])
}

func TestStore_CountInvalidPriority(t *testing.T) {
	st := prepStore(t)
	_, err := st.db.Exec("INSERT INTO gearman_queue VALUES ('k1', 'f1', 17, x'01')")
	require.NoError(t, err)
	require.NoError(t, st.Add(context.Background(), "k2", "f1", PriorityNormal, nil))

	counts, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[Priority]int{PriorityHigh: 0, PriorityNormal: 2, PriorityLow: 0}, counts)
}

func TestStore_Count(t *testing.T) {
	st := prepStore(t)
	ctx := context.Background()

	counts, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Priority]int{PriorityHigh: 0, PriorityNormal: 0, PriorityLow: 0}, counts)

	require.NoError(t, st.Add(ctx, "a", "fn", PriorityHigh, nil))
	require.NoError(t, st.Add(ctx, "b", "fn", PriorityLow, nil))
	require.NoError(t, st.Add(ctx, "c", "fn", PriorityLow, nil))

	counts, err = st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Priority]int{PriorityHigh: 1, PriorityNormal: 0, PriorityLow: 2}, counts)
}

func TestStore_AbortedFailsFast(t *testing.T) {
	st := prepStore(t)
	ctx := context.Background()

	st.tx.state = txAborted
	assert.ErrorIs(t, st.Add(ctx, "k1", "fn", PriorityNormal, nil), ErrTxAborted)
	assert.ErrorIs(t, st.Done(ctx, "k1", "fn"), ErrTxAborted)
	assert.NoError(t, st.Flush(ctx))
	assert.Empty(t, replayAll(t, st), "replay is not transactional")

	st.Reset()
	require.NoError(t, st.Add(ctx, "k1", "fn", PriorityNormal, nil))
	assert.Len(t, replayAll(t, st), 1)
}

func TestStore_CanceledContext(t *testing.T) {
	st := prepStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := st.Add(ctx, "k1", "fn", PriorityNormal, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDriver)
	assert.Equal(t, txIdle, st.tx.state)

	require.NoError(t, st.Add(context.Background(), "k1", "fn", PriorityNormal, nil))
}

func TestStore_QuotedTable(t *testing.T) {
	st, err := Open(context.Background(), Params{DB: filepath.Join(t.TempDir(), "q.db"), Table: `my "queue" table`})
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Add(ctx, "k1", "fn", PriorityHigh, []byte("x")))
	assert.Len(t, replayAll(t, st), 1)
	require.NoError(t, st.Done(ctx, "k1", "fn"))
	assert.Empty(t, replayAll(t, st))
}

func TestStore_Close(t *testing.T) {
	ctx := context.Background()
	dbFile := filepath.Join(t.TempDir(), "q.db")
	st, err := Open(ctx, Params{DB: dbFile})
	require.NoError(t, err)

	// uncommitted insert dropped on close
	require.NoError(t, st.tx.lock(ctx))
	_, err = st.tx.exec(ctx, st.qbuf.format(insertQuery, quoteIdent(st.table)), PriorityLow, "k1", "fn", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.Equal(t, txIdle, st.tx.state)
	assert.NotPanics(t, func() { _ = st.Close() })

	st, err = Open(ctx, Params{DB: dbFile})
	require.NoError(t, err)
	defer st.Close()
	assert.Empty(t, replayAll(t, st))
}
