package history

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	root := "/logs"

	write := func(path, content string) {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join(root, path), []byte(content), 0o644))
	}
	write("1700000000000/summary.json", `{"duration":95000}`)
	write("1700000000000/allUserData.json", `{"7":{"name":"Aria"}}`)
	write("1700000000000/users/7.json", `{"uid":7,"skills":{}}`)
	write("1700000000000/fight.log", "line one\nline two\n")
	write("1700000500000/summary.json", `{broken`)
	require.NoError(t, fsys.MkdirAll(filepath.Join(root, "not-a-fight"), 0o755))
	write("secret.json", `{"token":"x"}`)

	s, err := NewStore(fsys, root, zerolog.Nop())
	require.NoError(t, err)
	return s, fsys
}

func TestStore_List(t *testing.T) {
	s, _ := newTestStore(t)

	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"1700000500000", "1700000000000"}, list)
}

func TestStore_ListMissingRoot(t *testing.T) {
	s, err := NewStore(afero.NewMemMapFs(), "/nowhere", zerolog.Nop())
	require.NoError(t, err)

	_, err = s.List()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReadArtifacts(t *testing.T) {
	s, _ := newTestStore(t)

	summary, err := s.Summary("1700000000000")
	require.NoError(t, err)
	assert.JSONEq(t, `{"duration":95000}`, string(summary))

	users, err := s.UserData("1700000000000")
	require.NoError(t, err)
	assert.JSONEq(t, `{"7":{"name":"Aria"}}`, string(users))

	skill, err := s.UserSkill("1700000000000", "7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"uid":7,"skills":{}}`, string(skill))

	f, info, err := s.OpenLog("1700000000000")
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(body))
	assert.Equal(t, int64(len(body)), info.Size())
}

func TestStore_ValidatesSegments(t *testing.T) {
	s, _ := newTestStore(t)

	tests := []struct {
		name      string
		timestamp string
		uid       string
		want      error
	}{
		{"traversal timestamp", "../secret", "7", ErrInvalidTimestamp},
		{"dotdot", "..", "7", ErrInvalidTimestamp},
		{"mixed", "170abc", "7", ErrInvalidTimestamp},
		{"empty", "", "7", ErrInvalidTimestamp},
		{"traversal uid", "1700000000000", "../../secret", ErrInvalidUID},
		{"negative uid", "1700000000000", "-7", ErrInvalidUID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.UserSkill(tt.timestamp, tt.uid)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := s.Summary("../secret")
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
	_, _, err = s.OpenLog("1/../../etc")
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestStore_SafeJoinRejectsEscape(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.safeJoin("..", "etc", "passwd")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = s.safeJoin("1700", "..", "..", "x")
	assert.ErrorIs(t, err, ErrInvalidPath)

	p, err := s.safeJoin("1700", "..", "1800", "summary.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "1800", "summary.json"), p)
}

func TestStore_NotFoundAndMalformed(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Summary("1234")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UserSkill("1700000000000", "8")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.OpenLog("1700000500000")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Summary("1700000500000")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
