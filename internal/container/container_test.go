package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/application/workflow"
	"github.com/garyjia/letter-approval/internal/domain/entity"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "letters.db")
	cfg.Artifact.OutputDir = filepath.Join(dir, "artifacts")
	return cfg
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Notify.QueueSize = 0
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_Lifecycle(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(ctx), "second start must fail")

	health := c.Health()
	assert.True(t, health.Overall)
	assert.True(t, health.Components["database"].Healthy)
	assert.Contains(t, health.Components, "realtime")
	assert.True(t, health.Components["worker:RealtimeHub"].Healthy)
	assert.True(t, health.Components["worker:NotificationBroadcaster"].Healthy)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close(), "second close must fail")
	assert.Error(t, c.Start(ctx), "start after close must fail")
	assert.False(t, c.Health().Overall)
}

func TestContainer_StartFailureReleases(t *testing.T) {
	cfg := testConfig(t)
	// A regular file where the artifact directory should go
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.Artifact.OutputDir = filepath.Join(blocker, "artifacts")

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage")
	assert.False(t, c.Ready())
	assert.Nil(t, c.conn)
}

func TestContainer_SubmitThroughWiredService(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	actors := c.Repositories().Actors
	for _, a := range []*entity.Actor{
		{ID: "S", Name: "Student", Role: entity.RoleStudent, Department: "CSE", MentorID: "M"},
		{ID: "M", Name: "Mentor", Role: entity.RoleFaculty, Department: "CSE"},
		{ID: "H", Name: "Head", Role: entity.RoleFaculty, Department: "CSE", Designation: "hod"},
		{ID: "D", Name: "Dean", Role: entity.RoleFaculty, Designation: "dean"},
	} {
		require.NoError(t, actors.Upsert(ctx, a))
	}

	letter, err := c.LetterService().Submit(ctx, workflow.SubmitRequest{
		SubmitterID: "S",
		Title:       "Leave request",
		Body:        "Two days",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, letter.Status)
	assert.Equal(t, "M", letter.CurrentApprover())

	assigned, err := c.LetterService().ListAssigned(ctx, "M")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, letter.ID, assigned[0].ID)
}

func TestContainer_RealtimeDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Realtime.Enabled = false

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.Nil(t, c.Hub())
	assert.Equal(t, 1, c.Workers().GetWorkerCount())
}

func TestConvertToZapFields(t *testing.T) {
	fields := convertToZapFields("a", 1, 2, "skipped", "err", errors.New("boom"), "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, "a", fields[0].Key)
	assert.Equal(t, "err", fields[1].Key)
}
