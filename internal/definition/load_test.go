package definition

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadCodes(errs []error) []string {
	codes := make([]string, 0, len(errs))
	for _, err := range errs {
		var le *LoadError
		if errors.As(err, &le) {
			codes = append(codes, le.Code)
		}
	}
	return codes
}

func TestLoadDir_Valid(t *testing.T) {
	result, errs := LoadDir(filepath.Join("testdata", "stores"), LoadModeCollectAll)
	require.Empty(t, errs)
	require.NotNil(t, result)

	assert.Equal(t, 2, result.FileCount)
	assert.ElementsMatch(t, []string{"counter", "session"}, result.Names())

	counter, ok := result.Lookup("counter")
	require.True(t, ok)
	assert.Equal(t, []string{"increment", "reset"}, counter.ActionNames())

	_, ok = result.Lookup("missing")
	assert.False(t, ok)
}

func TestLoadDir_CollectAll(t *testing.T) {
	result, errs := LoadDir(filepath.Join("testdata", "invalid"), LoadModeCollectAll)
	require.NotNil(t, result)
	assert.Empty(t, result.Definitions)

	assert.ElementsMatch(t, []string{ErrCodeReducerOp, ErrCodeReducerOn, ErrCodeAction}, loadCodes(errs))
	for _, err := range errs {
		assert.Contains(t, err.Error(), "store.")
	}
}

func TestLoadDir_FailFast(t *testing.T) {
	_, errs := LoadDir(filepath.Join("testdata", "invalid"), LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadDir_NotFound(t *testing.T) {
	_, errs := LoadDir(filepath.Join(t.TempDir(), "nope"), LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeNotFound}, loadCodes(errs))
}

func TestLoadDir_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.cue")
	require.NoError(t, os.WriteFile(path, []byte("package x\n"), 0644))

	_, errs := LoadDir(path, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeNotFound}, loadCodes(errs))
}

func TestLoadDir_NoFiles(t *testing.T) {
	_, errs := LoadDir(t.TempDir(), LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeNoFiles}, loadCodes(errs))
}

func TestLoadDir_NoStores(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.cue"), []byte("package x\n\nother: 1\n"), 0644))

	result, errs := LoadDir(dir, LoadModeCollectAll)
	require.NotNil(t, result)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no stores found")
}

func TestLoadDir_SyntaxError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cue"), []byte("package x\n\nstore: {\n"), 0644))

	_, errs := LoadDir(dir, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Contains(t, []string{ErrCodeLoadFailed, ErrCodeBuildFailed}, loadCodes(errs)[0])
}

func TestLoadErrorFormat(t *testing.T) {
	err := &LoadError{Code: ErrCodeNoFiles, Message: "no CUE files found in x"}
	assert.Equal(t, "E003: no CUE files found in x", err.Error())
}

func TestMapFieldToErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeReducerOp, MapFieldToErrorCode("reducer.op"))
	assert.Equal(t, ErrCodeKind, MapFieldToErrorCode("middleware.kind"))
	assert.Equal(t, ErrCodeGeneric, MapFieldToErrorCode("cue"))
}

func loadStores(t *testing.T) *LoadResult {
	t.Helper()
	result, errs := LoadDir(filepath.Join("testdata", "stores"), LoadModeFailFast)
	require.Empty(t, errs)
	return result
}

func TestBuild_Counter(t *testing.T) {
	def, ok := loadStores(t).Lookup("counter")
	require.True(t, ok)

	s, err := Build(def)
	require.NoError(t, err)

	_, err = s.Dispatch("increment")
	require.NoError(t, err)
	_, err = s.Dispatch("increment", 5)
	require.NoError(t, err)
	assert.Equal(t, 6, s.State()["count"])

	_, err = s.Dispatch("reset")
	require.NoError(t, err)
	assert.Equal(t, 0, s.State()["count"])
	assert.Equal(t, []any{
		map[string]any{"by": 1},
		map[string]any{"by": 5},
		nil,
	}, s.State()["history"])

	_, err = s.Dispatch("increment", 1, 2)
	assert.Error(t, err)
	_, err = s.Dispatch("reset", 1)
	assert.Error(t, err)
	assert.Equal(t, 0, s.State()["count"])
}

func TestBuild_Session(t *testing.T) {
	def, ok := loadStores(t).Lookup("session")
	require.True(t, ok)

	s, err := Build(def)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "guest"}, s.State()["user"])

	_, err = s.Dispatch("login", "alice", "admin")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "alice", "role": "admin"}, s.State()["user"])

	_, err = s.Dispatch("toggleTheme")
	require.NoError(t, err)
	assert.Equal(t, true, s.State()["dark"])

	p, err := s.Dispatch("shutdown")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	_, err = s.Dispatch("logout")
	require.NoError(t, err)
	assert.Nil(t, s.State()["user"])
}

func TestBuild_StoresDoNotShareState(t *testing.T) {
	def, ok := loadStores(t).Lookup("counter")
	require.True(t, ok)

	a, err := Build(def)
	require.NoError(t, err)
	b, err := Build(def)
	require.NoError(t, err)

	_, err = a.Dispatch("increment", 3)
	require.NoError(t, err)

	assert.Equal(t, 3, a.State()["count"])
	assert.Equal(t, 0, b.State()["count"])
	assert.Equal(t, []any{}, b.State()["history"])
	assert.Equal(t, []any{}, def.State["history"])
}
