package attachment

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attachd/attachd/attachcore/datastore"
	"github.com/attachd/attachd/core/common"
)

func TestReapQueries(t *testing.T) {
	store := datastore.UseSqlmock()
	mock := store.Sqlmock

	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "status"}).AddRow("a1", StatusSoftDeleted)
	}

	t.Run("soft deleted before cutoff", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "attachments" WHERE status = \$1 AND deleted_at > 0 AND deleted_at < \$2`).
			WillReturnRows(rows())
		mock.ExpectCommit()

		err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
			got, err := GetSoftDeletedBefore(ctx, common.Now(), 100)
			require.NoError(t, err)
			assert.Len(t, got, 1)
			return nil
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired temporaries", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "attachments" WHERE is_temporary = \$1 AND expires_at > 0 AND expires_at < \$2 AND status <> \$3`).
			WillReturnRows(rows())
		mock.ExpectCommit()

		err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
			got, err := GetExpiredTemporary(ctx, common.Now(), 100)
			require.NoError(t, err)
			assert.Len(t, got, 1)
			return nil
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("orphaned temporaries", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "attachments" WHERE is_temporary = \$1 AND status = \$2 AND created_at < \$3 AND \(usage_info IS NULL`).
			WillReturnRows(rows())
		mock.ExpectCommit()

		err := datastore.GetStore().WithNewTransaction(func(ctx context.Context) error {
			got, err := GetOrphanedTemporary(ctx, time.Now().Add(-24*time.Hour), 100)
			require.NoError(t, err)
			assert.Len(t, got, 1)
			return nil
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
