//go:build integration

package db_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/groupchat/libs/db"
	"github.com/md-rashed-zaman/groupchat/libs/db/dbtest"
)

func TestMigrate_VersionsEachSourceSeparately(t *testing.T) {
	rooms := db.Migration{Name: "rooms", Source: fstest.MapFS{
		"migrations/0001_rooms.up.sql":   {Data: []byte("CREATE TABLE rooms (id INT PRIMARY KEY);")},
		"migrations/0001_rooms.down.sql": {Data: []byte("DROP TABLE rooms;")},
		"migrations/0002_topic.up.sql":   {Data: []byte("ALTER TABLE rooms ADD COLUMN topic TEXT;")},
		"migrations/0002_topic.down.sql": {Data: []byte("ALTER TABLE rooms DROP COLUMN topic;")},
	}}
	seats := db.Migration{Name: "seats", Source: fstest.MapFS{
		"migrations/0001_seats.up.sql": {Data: []byte("CREATE TABLE seats (id INT PRIMARY KEY);")},
	}}
	pool := dbtest.StartPostgres(t, rooms, seats)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx, pool, rooms, seats), "re-running is a no-op")

	var version int
	require.NoError(t, pool.QueryRow(ctx, `SELECT version FROM rooms_schema_migrations`).Scan(&version))
	assert.Equal(t, 2, version)
	require.NoError(t, pool.QueryRow(ctx, `SELECT version FROM seats_schema_migrations`).Scan(&version))
	assert.Equal(t, 1, version)

	_, err := pool.Exec(ctx, `INSERT INTO rooms (id, topic) VALUES (1, 'general')`)
	require.NoError(t, err)
}

func TestMigrate_FailedStepLeavesDirtyVersion(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	broken := db.Migration{Name: "broken", Source: fstest.MapFS{
		"migrations/0001_broken.up.sql": {Data: []byte("CREATE TABLE nope (;")},
	}}
	ctx := context.Background()

	require.Error(t, db.Migrate(ctx, pool, broken))

	err := db.Migrate(ctx, pool, broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dirty database version 1")
}
