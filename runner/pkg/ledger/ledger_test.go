package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	runtesting "github.com/malbeclabs/questrunner/utils/pkg/testing"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(t.Context(), Config{
		Logger:  runtesting.NewLogger(),
		Driver:  DriverSQLite,
		DSN:     filepath.Join(t.TempDir(), "ledger.db"),
		Migrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLedger_SQLite(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) Store { return newSQLiteStore(t) })
}

func TestLedger_Postgres(t *testing.T) {
	t.Parallel()
	db := runtesting.RequirePostgres(t)

	store, err := Open(t.Context(), Config{
		Logger:  runtesting.NewLogger(),
		DSN:     db.ConnStr(),
		Migrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, isPostgres := store.(*PostgresStore)
	require.True(t, isPostgres)

	var n int
	runStoreSuite(t, func(t *testing.T) Store {
		n++
		return &prefixedStore{Store: store, prefix: fmt.Sprintf("suite-%d-", n)}
	})
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("save plan then pending in order", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		has, err := s.HasPlan(ctx, "w1")
		require.NoError(t, err)
		require.False(t, has)

		created, err := s.SavePlan(ctx, "w1", []string{"faucet", "swaps", "mint_aura", "swaps"})
		require.NoError(t, err)
		require.True(t, created)

		has, err = s.HasPlan(ctx, "w1")
		require.NoError(t, err)
		require.True(t, has)

		pending, err := s.PendingTasks(ctx, "w1")
		require.NoError(t, err)
		require.Equal(t, []string{"faucet", "swaps", "mint_aura", "swaps"}, names(pending))
		for i, r := range pending {
			require.Equal(t, i, r.Position)
			require.Equal(t, StatusPending, r.Status)
			require.Equal(t, pending[0].PlanID, r.PlanID)
			require.False(t, r.CreatedAt.IsZero())
		}
	})

	t.Run("second save keeps first plan", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		_, err := s.SavePlan(ctx, "w1", []string{"a", "b"})
		require.NoError(t, err)
		created, err := s.SavePlan(ctx, "w1", []string{"c"})
		require.NoError(t, err)
		require.False(t, created)

		all, err := s.Tasks(ctx, "w1")
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b"}, names(all))
	})

	t.Run("completed tasks are excluded", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		_, err := s.SavePlan(ctx, "w1", []string{"faucet", "swaps", "conft_mint"})
		require.NoError(t, err)
		require.NoError(t, s.UpdateStatus(ctx, "w1", 1, StatusCompleted))

		pending, err := s.PendingTasks(ctx, "w1")
		require.NoError(t, err)
		require.Equal(t, []string{"faucet", "conft_mint"}, names(pending))

		all, err := s.Tasks(ctx, "w1")
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, all[1].Status)
	})

	t.Run("wallets are independent", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		_, err := s.SavePlan(ctx, "w1", []string{"a"})
		require.NoError(t, err)
		_, err = s.SavePlan(ctx, "w2", []string{"b", "c"})
		require.NoError(t, err)
		require.NoError(t, s.UpdateStatus(ctx, "w1", 0, StatusCompleted))

		p1, err := s.PendingTasks(ctx, "w1")
		require.NoError(t, err)
		require.Empty(t, p1)
		p2, err := s.PendingTasks(ctx, "w2")
		require.NoError(t, err)
		require.Len(t, p2, 2)
	})

	t.Run("update unknown step", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateStatus(t.Context(), "nobody", 3, StatusCompleted)
		require.ErrorIs(t, err, ErrNotFound)
		require.Error(t, s.UpdateStatus(t.Context(), "nobody", 0, Status("bogus")))
	})

	t.Run("record failure", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		_, err := s.SavePlan(ctx, "w1", []string{"faucet"})
		require.NoError(t, err)
		require.NoError(t, s.RecordFailure(ctx, "w1", 0, "service is busy"))
		require.NoError(t, s.RecordFailure(ctx, "w1", 0, "invalid captcha"))

		all, err := s.Tasks(ctx, "w1")
		require.NoError(t, err)
		require.Equal(t, 2, all[0].Failures)
		require.Equal(t, "invalid captcha", all[0].LastError)
		require.Equal(t, StatusPending, all[0].Status)
	})

	t.Run("wallet summaries and reset", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		_, err := s.SavePlan(ctx, "w1", []string{"a", "b", "c"})
		require.NoError(t, err)
		require.NoError(t, s.UpdateStatus(ctx, "w1", 2, StatusCompleted))

		summaries, err := s.Wallets(ctx)
		require.NoError(t, err)
		var found *WalletSummary
		for i := range summaries {
			if summaries[i].WalletKey == keyOf(s, "w1") {
				found = &summaries[i]
			}
		}
		require.NotNil(t, found)
		require.Equal(t, 3, found.Total)
		require.Equal(t, 1, found.Completed)
		require.Equal(t, 2, found.Pending())

		n, err := s.Reset(ctx, "w1")
		require.NoError(t, err)
		require.Equal(t, 3, n)
		has, err := s.HasPlan(ctx, "w1")
		require.NoError(t, err)
		require.False(t, has)
	})

	t.Run("concurrent runners", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		const wallets = 8
		var wg sync.WaitGroup
		errs := make(chan error, wallets*2)
		for w := range wallets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := fmt.Sprintf("w%d", w)
				if _, err := s.SavePlan(ctx, key, []string{"a", "b", "c", "d"}); err != nil {
					errs <- err
					return
				}
				for pos := range 4 {
					if err := s.UpdateStatus(ctx, key, pos, StatusCompleted); err != nil {
						errs <- err
						return
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		for w := range wallets {
			pending, err := s.PendingTasks(ctx, fmt.Sprintf("w%d", w))
			require.NoError(t, err)
			require.Empty(t, pending)
		}
	})
	t.Run("long multi-byte failure text", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		_, err := s.SavePlan(ctx, "w1", []string{"faucet"})
		require.NoError(t, err)

		msg := "x" + strings.Repeat("слишком много запросов ", 40)
		require.NoError(t, s.RecordFailure(ctx, "w1", 0, msg))

		recs, err := s.Tasks(ctx, "w1")
		require.NoError(t, err)
		require.True(t, utf8.ValidString(recs[0].LastError))
		require.LessOrEqual(t, len(recs[0].LastError), maxErrorLen)
		require.True(t, strings.HasPrefix(msg, recs[0].LastError))
	})
}

func TestLedger_Truncate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
	}{
		{name: "short", in: "boom"},
		{name: "ascii over limit", in: strings.Repeat("a", maxErrorLen+10)},
		{name: "cyrillic straddling limit", in: "x" + strings.Repeat("я", maxErrorLen)},
		{name: "emoji straddling limit", in: "ab" + strings.Repeat("🚀", maxErrorLen)},
		{name: "invalid input", in: "bad \xff\xfe bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := truncate(tt.in)
			require.True(t, utf8.ValidString(got))
			require.LessOrEqual(t, len(got), maxErrorLen)
			if utf8.ValidString(tt.in) {
				require.True(t, strings.HasPrefix(tt.in, got))
				require.Greater(t, len(got), maxErrorLen-utf8.UTFMax)
			}
		})
	}
}

func TestLedger_SQLite_ClosedIsUnavailable(t *testing.T) {
	t.Parallel()
	s := newSQLiteStore(t)
	require.NoError(t, s.Close())

	_, err := s.PendingTasks(context.Background(), "w1")
	require.ErrorIs(t, err, ErrUnavailable)
	_, err = s.HasPlan(context.Background(), "w1")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestLedger_SQLite_WithoutMigrationsIsUnavailable(t *testing.T) {
	t.Parallel()
	store, err := NewSQLiteStore(t.Context(), Config{
		Logger: runtesting.NewLogger(),
		DSN:    filepath.Join(t.TempDir(), "empty.db"),
	})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.PendingTasks(t.Context(), "w1")
	require.ErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "no such table")
}

func TestLedger_Migrations(t *testing.T) {
	t.Parallel()
	s := newSQLiteStore(t)
	ctx := t.Context()
	log := runtesting.NewLogger()

	statuses, err := MigrateStatus(ctx, DriverSQLite, s.DB())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		require.True(t, st.Applied)
	}

	require.NoError(t, MigrateDown(ctx, log, DriverSQLite, s.DB()))
	statuses, err = MigrateStatus(ctx, DriverSQLite, s.DB())
	require.NoError(t, err)
	require.False(t, statuses[1].Applied)

	require.NoError(t, MigrateUp(ctx, log, DriverSQLite, s.DB()))
}

func TestLedger_Config_Validate(t *testing.T) {
	t.Parallel()
	log := runtesting.NewLogger()

	cfg := Config{Logger: log, DSN: "postgres://u:p@localhost/db"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DriverPostgres, cfg.Driver)

	cfg = Config{Logger: log, DSN: "data/ledger.db"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DriverSQLite, cfg.Driver)

	require.Error(t, (&Config{Logger: log}).Validate())
	require.Error(t, (&Config{DSN: "x"}).Validate())
	require.Error(t, (&Config{Logger: log, DSN: "x", Driver: "mysql"}).Validate())
}

func names(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.TaskName
	}
	return out
}

// prefixedStore isolates subtests that share one database.
type prefixedStore struct {
	Store
	prefix string
}

func keyOf(s Store, key string) string {
	if p, ok := s.(*prefixedStore); ok {
		return p.prefix + key
	}
	return key
}

func (p *prefixedStore) HasPlan(ctx context.Context, key string) (bool, error) {
	return p.Store.HasPlan(ctx, p.prefix+key)
}

func (p *prefixedStore) SavePlan(ctx context.Context, key string, tasks []string) (bool, error) {
	return p.Store.SavePlan(ctx, p.prefix+key, tasks)
}

func (p *prefixedStore) PendingTasks(ctx context.Context, key string) ([]Record, error) {
	return p.Store.PendingTasks(ctx, p.prefix+key)
}

func (p *prefixedStore) Tasks(ctx context.Context, key string) ([]Record, error) {
	return p.Store.Tasks(ctx, p.prefix+key)
}

func (p *prefixedStore) UpdateStatus(ctx context.Context, key string, pos int, st Status) error {
	return p.Store.UpdateStatus(ctx, p.prefix+key, pos, st)
}

func (p *prefixedStore) RecordFailure(ctx context.Context, key string, pos int, msg string) error {
	return p.Store.RecordFailure(ctx, p.prefix+key, pos, msg)
}

func (p *prefixedStore) Reset(ctx context.Context, key string) (int, error) {
	return p.Store.Reset(ctx, p.prefix+key)
}

func (p *prefixedStore) Close() error { return nil }

func TestLedger_OpenDB(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	log := runtesting.NewLogger()
	dsn := filepath.Join(t.TempDir(), "nested", "ledger.db")

	db, err := OpenDB(ctx, Config{Logger: log, DSN: dsn})
	require.NoError(t, err)
	defer db.Close()

	statuses, err := MigrateStatus(ctx, DriverSQLite, db)
	require.NoError(t, err)
	for _, st := range statuses {
		require.False(t, st.Applied)
	}
	require.NoError(t, MigrateUp(ctx, log, DriverSQLite, db))

	store, err := Open(ctx, Config{Logger: log, DSN: dsn})
	require.NoError(t, err)
	defer store.Close()
	created, err := store.SavePlan(ctx, "w1", []string{"faucet"})
	require.NoError(t, err)
	require.True(t, created)
}
