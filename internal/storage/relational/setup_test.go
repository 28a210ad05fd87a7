package relational

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *gorm.DB {
	db, err := ConnectSQLite(":memory:")
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	return db
}

func SetupTestStore(t *testing.T) *Store {
	return NewStore(SetupTestDB(t))
}
