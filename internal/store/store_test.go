package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/optical_flow/internal/flow"
	"github.com/relabs-tech/optical_flow/internal/telemetry"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "flow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionLifecycle(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	start := time.Unix(1700000000, 0)

	id, err := db.StartSession(ctx, "flow0", "mock", "bench", start)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		m := telemetry.FlowMessage{
			SensorID:  "flow0",
			Timestamp: start.Add(time.Duration(i) * 100 * time.Millisecond),
			Position: flow.Position{
				X: int64(i), GroundOffsetX: float64(i) * 0.1, GroundOffsetY: -float64(i) * 0.2,
				Quality: 40, LowConfidence: i == 2,
			},
			Altitude: 1,
		}
		require.NoError(t, db.RecordPosition(ctx, id, m))
	}
	require.NoError(t, db.EndSession(ctx, id, start.Add(time.Second)))

	sessions, err := db.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, id, s.ID)
	assert.Equal(t, "bench", s.Notes)
	assert.Equal(t, 3, s.Positions)
	assert.True(t, s.StartedAt.Equal(start))
	assert.True(t, s.EndedAt.Equal(start.Add(time.Second)))

	track, err := db.Track(ctx, id)
	require.NoError(t, err)
	require.Len(t, track, 3)
	assert.InDelta(t, 0.3, track[2][0], 1e-12)
	assert.InDelta(t, -0.6, track[2][1], 1e-12)
}

func TestEndUnknownSession(t *testing.T) {
	db := openTest(t)
	assert.Error(t, db.EndSession(context.Background(), uuid.NewString(), time.Now()))
}

func TestSessionsNewestFirst(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	older, err := db.StartSession(ctx, "flow0", "mock", "", time.Unix(10, 0))
	require.NoError(t, err)
	newer, err := db.StartSession(ctx, "flow0", "mock", "", time.Unix(20, 0))
	require.NoError(t, err)

	sessions, err := db.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer, sessions[0].ID)
	assert.Equal(t, older, sessions[1].ID)
	assert.True(t, sessions[1].EndedAt.IsZero())
}
