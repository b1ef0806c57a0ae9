package extstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lavallee/cub/internal/task"
)

type fakeRunner struct {
	calls [][]string
	reply []byte
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	return f.reply, f.err
}

func TestReadyDecodesJSON(t *testing.T) {
	reply, err := json.Marshal([]task.Task{{ID: "proj-a-1"}})
	require.NoError(t, err)
	fr := &fakeRunner{reply: reply}
	s := NewWithRunner(fr)

	tasks, err := s.Ready(task.Filters{Label: "pr"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "proj-a-1", tasks[0].ID)
	require.Contains(t, fr.calls[0], "--label")
}

func TestClaimMapsRaceResult(t *testing.T) {
	reply, _ := json.Marshal(struct {
		Result string `json:"result"`
	}{Result: "race"})
	fr := &fakeRunner{reply: reply}
	s := NewWithRunner(fr)

	res, err := s.Claim("proj-a-1", "session-1")
	require.NoError(t, err)
	require.Equal(t, task.ClaimRace, res)
}

func TestGetNotFoundWhenEmptyID(t *testing.T) {
	fr := &fakeRunner{reply: []byte(`{}`)}
	s := NewWithRunner(fr)

	_, err := s.Get("missing")
	require.ErrorIs(t, err, task.ErrNotFound)
}
