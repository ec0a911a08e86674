package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamrelay/transcoder/internal/domain"
)

func TestLoad_MissingFileReturnsFreshState(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	state, err := store.Load("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageInitialized, state.Stage)
	assert.Equal(t, "job-1", state.JobID)
}

func TestSaveAndLoad_Roundtrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	state := NewState("job-2")
	state.Stage = domain.StageDownloaded
	state.SourcePath = "/scratch/job-2/source.mp4"
	state.AddCompletedResolution(domain.Resolution720p)
	state.AddUploadedFile(domain.UploadedFile{Name: "720p/index.m3u8", Key: "output/job-2/720p/index.m3u8", Size: 1024})

	require.NoError(t, store.Save(state))

	loaded, err := store.Load("job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StageDownloaded, loaded.Stage)
	assert.Equal(t, "/scratch/job-2/source.mp4", loaded.SourcePath)
	assert.True(t, loaded.HasCompletedResolution(domain.Resolution720p))
	require.Len(t, loaded.UploadedFiles, 1)
	assert.Equal(t, "output/job-2/720p/index.m3u8", loaded.UploadedFiles[0].Key)
}

func TestSave_OverwritesExistingFileWithoutLeavingTmp(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	state := NewState("job-3")
	require.NoError(t, store.Save(state))

	state.Stage = domain.StageAnalyzed
	require.NoError(t, store.Save(state))

	loaded, err := store.Load("job-3")
	require.NoError(t, err)
	assert.Equal(t, domain.StageAnalyzed, loaded.Stage)

	_, err = os.Stat(filepath.Join(dir, "job-3", "job_state.json.tmp"))
	assert.True(t, os.IsNotExist(err), "temp file should not remain after a successful save")
}

func TestIsStageCompleted(t *testing.T) {
	state := NewState("job-4")
	state.Stage = domain.StageTranscoded

	assert.True(t, state.IsStageCompleted(domain.StageDownloaded))
	assert.True(t, state.IsStageCompleted(domain.StageTranscoded))
	assert.False(t, state.IsStageCompleted(domain.StageUploaded))
}

func TestAddUploadedFile_Idempotent(t *testing.T) {
	state := NewState("job-5")
	f := domain.UploadedFile{Name: "480p/index.m3u8", Key: "output/job-5/480p/index.m3u8", Size: 512}

	state.AddUploadedFile(f)
	state.AddUploadedFile(f)

	assert.Len(t, state.UploadedFiles, 1)
}

func TestDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	state := NewState("job-6")
	require.NoError(t, store.Save(state))
	require.NoError(t, store.Delete("job-6"))

	loaded, err := store.Load("job-6")
	require.NoError(t, err)
	assert.Equal(t, domain.StageInitialized, loaded.Stage)
}
