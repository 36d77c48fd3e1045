package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"agentforge/internal/steps"
	"agentforge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(DefaultDriver, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)

	stats, err := s.GetStats()
	require.NoError(t, err)
	for _, table := range []string{"projects", "messages", "project_messages", "fragments", "steps"} {
		assert.Contains(t, stats, table)
		assert.Zero(t, stats[table])
	}
	assert.Equal(t, SchemaVersion, GetSchemaVersion(s.GetDB()))
	assert.True(t, columnExists(s.GetDB(), "messages", "run_id"))
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(DefaultDriver, path)
	require.NoError(t, err)
	p, err := s.CreateProject(ctx, "u1", "brave-otter")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(DefaultDriver, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "brave-otter", got.Name)
	assert.Equal(t, SchemaVersion, GetSchemaVersion(s.GetDB()))
}

func TestProjects(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "u1", "quiet-river")
	require.NoError(t, err)
	_, err = s.CreateProject(ctx, "u2", "other")
	require.NoError(t, err)

	list, err := s.ListProjects(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)

	_, err = s.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessages_AppendOrderAndListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx, "u1", "p")
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i, content := range []string{"first", "second", "third"} {
		id, err := s.CreateMessage(ctx, types.Message{
			ProjectID: p.ID,
			Content:   content,
			Role:      types.RoleAssistant,
			Type:      types.MessageResult,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		require.NoError(t, s.AppendProjectMessage(ctx, p.ID, id))
		ids = append(ids, id)
	}
	// Appending twice does not duplicate the entry.
	require.NoError(t, s.AppendProjectMessage(ctx, p.ID, ids[0]))

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ids, got.MessageIDs)

	msgs, err := s.ListMessages(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "third", msgs[0].Content)
	assert.Equal(t, "first", msgs[2].Content)
	assert.Nil(t, msgs[0].Fragment, "a message without fragment is tolerated")
}

func TestAppendProjectMessage_UnknownProject(t *testing.T) {
	s := openTestStore(t)
	err := s.AppendProjectMessage(context.Background(), "nope", "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFragments_AttachAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx, "u1", "p")
	require.NoError(t, err)

	msgID, err := s.CreateMessage(ctx, types.Message{
		ProjectID: p.ID,
		Content:   "I built a hello world agent.",
		Role:      types.RoleAssistant,
		Type:      types.MessageResult,
		RunID:     "run-1",
	})
	require.NoError(t, err)

	files := map[string]string{"main.py": "print('hello')"}
	fragID, err := s.CreateFragment(ctx, msgID, "http://3000-sb.localhost", "Hello Agent", files)
	require.NoError(t, err)
	require.NoError(t, s.AttachFragment(ctx, msgID, fragID))

	msg, err := s.GetMessage(ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, fragID, msg.FragmentID)
	require.NotNil(t, msg.Fragment)
	assert.Equal(t, "Hello Agent", msg.Fragment.Title)
	assert.Equal(t, files, msg.Fragment.Files)
	assert.Equal(t, "http://3000-sb.localhost", msg.Fragment.SandboxURL)

	byRun, err := s.FindMessageByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, msgID, byRun.ID)

	_, err = s.FindMessageByRun(ctx, "run-2")
	assert.ErrorIs(t, err, ErrNotFound)

	// Only one fragment per message.
	_, err = s.CreateFragment(ctx, msgID, "", "again", nil)
	assert.Error(t, err)

	assert.ErrorIs(t, s.AttachFragment(ctx, "missing", fragID), ErrNotFound)
}

func TestDeleteMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx, "u1", "p")
	require.NoError(t, err)

	msgID, err := s.CreateMessage(ctx, types.Message{ProjectID: p.ID, Content: "x", Role: types.RoleAssistant, Type: types.MessageResult})
	require.NoError(t, err)
	require.NoError(t, s.AppendProjectMessage(ctx, p.ID, msgID))
	fragID, err := s.CreateFragment(ctx, msgID, "url", "t", map[string]string{"a": "b"})
	require.NoError(t, err)
	require.NoError(t, s.AttachFragment(ctx, msgID, fragID))

	require.NoError(t, s.DeleteMessage(ctx, msgID))

	_, err = s.GetMessage(ctx, msgID)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MessageIDs)
	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats["fragments"])

	assert.ErrorIs(t, s.DeleteMessage(ctx, msgID), ErrNotFound)
}

func TestStepLog_ReplaysAcrossExecutors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	log := s.StepLog()

	calls := 0
	fn := func(ctx context.Context) (string, error) {
		calls++
		return "sandbox-42", nil
	}

	e1 := steps.NewExecutor("run-1", log, steps.WithSleeper(steps.InstantSleeper{}))
	id, err := steps.Run(ctx, e1, "get-sandbox-id", fn)
	require.NoError(t, err)
	assert.Equal(t, "sandbox-42", id)
	require.NoError(t, e1.Sleep(ctx, "initial-stagger", time.Second))

	e2 := steps.NewExecutor("run-1", log, steps.WithSleeper(steps.InstantSleeper{}))
	id, err = steps.Run(ctx, e2, "get-sandbox-id", fn)
	require.NoError(t, err)
	assert.Equal(t, "sandbox-42", id)
	require.NoError(t, e2.Sleep(ctx, "initial-stagger", time.Second))

	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(2), e2.Replayed())

	recs, err := log.Records(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "get-sandbox-id", recs[0].Name)
	assert.Equal(t, steps.KindSleep, recs[1].Kind)
}

func TestStepLog_AppendNeverOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	log := s.StepLog()

	require.NoError(t, log.Append(ctx, steps.Record{RunID: "r", Name: "n", Kind: steps.KindRun, Result: []byte(`"a"`)}))
	require.NoError(t, log.Append(ctx, steps.Record{RunID: "r", Name: "n", Kind: steps.KindRun, Result: []byte(`"b"`)}))

	rec, ok, err := log.Load(ctx, "r", "n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"a"`, string(rec.Result))

	_, ok, err = log.Load(ctx, "r", "other")
	require.NoError(t, err)
	assert.False(t, ok)
}
