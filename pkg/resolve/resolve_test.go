package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "asdf", want: "asdf"},
		{in: "  /home/u/proj \n", want: "/home/u/proj"},
		{in: `C:\Users\u\proj`, want: "C:/Users/u/proj"},
		{in: `mixed\path/with\both`, want: "mixed/path/with/both"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Normalize(got))
			assert.NotContains(t, got, `\`)
		})
	}
}

func TestResolveKeys(t *testing.T) {
	tests := []struct {
		name       string
		folders    []string
		key        string
		wantLocal  string
		wantPrefix string
	}{
		{name: "bare basename", folders: []string{"/home/u/proj"}, key: "proj", wantLocal: "/home/u/proj", wantPrefix: "proj"},
		{name: "relative subfolder", folders: []string{"/home/u/proj"}, key: "proj/sub", wantLocal: "/home/u/proj/sub", wantPrefix: "proj/sub"},
		{name: "absolute", folders: []string{"/home/u/proj"}, key: "/home/u/proj", wantLocal: "/home/u/proj", wantPrefix: "proj"},
		{name: "absolute subfolder", folders: []string{"/home/u/proj"}, key: "/home/u/proj/sub/deep", wantLocal: "/home/u/proj/sub/deep", wantPrefix: "proj/sub/deep"},
		{name: "relative nested parent", folders: []string{"/home/u/work/proj"}, key: "work/proj", wantLocal: "/home/u/work/proj", wantPrefix: "work/proj"},
		{name: "current folder", folders: []string{"/home/u/proj"}, key: ".", wantLocal: "/home/u/proj", wantPrefix: "proj"},
		{name: "windows separators", folders: []string{`C:\Users\u\proj`}, key: `proj\sub`, wantLocal: "C:/Users/u/proj/sub", wantPrefix: "proj/sub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(tt.folders, []string{tt.key})

			require.Empty(t, res.Diagnostics)
			require.Len(t, res.Paths, 1)
			assert.Equal(t, tt.key, res.Paths[0].Key)
			assert.Equal(t, tt.wantLocal, res.Paths[0].LocalPath)
			assert.Equal(t, tt.wantPrefix, res.Paths[0].Prefix)
		})
	}
}

func TestResolveCurrentFolderIsAmbiguousWithTwoFolders(t *testing.T) {
	res := Resolve([]string{"/home/u/a", "/home/u/b"}, []string{"."})

	assert.Empty(t, res.Paths)
	require.NotEmpty(t, res.Diagnostics)
	for _, d := range res.Diagnostics {
		assert.Equal(t, ConfigurationAmbiguous, d.Kind)
		assert.Equal(t, ".", d.Key)
		assert.Equal(t, "Use of . is ambiguous when project has more than one folder.", d.Message)
	}
}

func TestResolveMultipleFolders(t *testing.T) {
	res := Resolve([]string{"/src/api", "/src/web"}, []string{"api", "web/public"})

	require.Empty(t, res.Diagnostics)
	require.Len(t, res.Paths, 2)
	assert.Equal(t, Resolution{Key: "api", Folder: "/src/api", LocalPath: "/src/api", Prefix: "api"}, res.Paths[0])
	assert.Equal(t, Resolution{Key: "web/public", Folder: "/src/web", LocalPath: "/src/web/public", Prefix: "web/public"}, res.Paths[1])
}

func TestResolveNoRemotesDefined(t *testing.T) {
	res := Resolve([]string{"/src/api", "/src/docs"}, []string{"api"})

	require.Len(t, res.Paths, 1)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, NoRemotesDefined, res.Diagnostics[0].Kind)
	assert.Equal(t, "/src/docs", res.Diagnostics[0].Folder)
	assert.Equal(t, "docs", res.Diagnostics[0].Prefix)
}

func TestResolveUndeterminedLocalPath(t *testing.T) {
	res := Resolve([]string{"/home/u/proj"}, []string{"/srv/proj"})

	assert.Empty(t, res.Paths)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, ConfigurationAmbiguous, res.Diagnostics[0].Kind)
	assert.Equal(t, "Unable to determine local path for /srv/proj", res.Diagnostics[0].Message)
}

func TestResolveSkipsKeyOfAnotherFolderWithSameBasename(t *testing.T) {
	res := Resolve([]string{"/a/proj", "/b/other/proj"}, []string{"other/proj"})

	require.Len(t, res.Paths, 1)
	assert.Equal(t, "/b/other/proj", res.Paths[0].LocalPath)
	assert.Equal(t, "other/proj", res.Paths[0].Prefix)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, NoRemotesDefined, res.Diagnostics[0].Kind)
	assert.Equal(t, "/a/proj", res.Diagnostics[0].Folder)
}

func TestResolveRepeatedBasenameSplitsAtLastOccurrence(t *testing.T) {
	res := Resolve([]string{"/home/u/proj"}, []string{"proj/proj"})

	assert.Empty(t, res.Paths)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, NoRemotesDefined, res.Diagnostics[0].Kind)

	res = Resolve([]string{"/home/u/proj/proj"}, []string{"proj/proj"})

	require.Empty(t, res.Diagnostics)
	require.Len(t, res.Paths, 1)
	assert.Equal(t, "/home/u/proj/proj", res.Paths[0].LocalPath)
	assert.Equal(t, "proj/proj", res.Paths[0].Prefix)
}

func TestResolveSiblingFolderKeyResolvesOnce(t *testing.T) {
	res := Resolve([]string{"/home/u/proj", "/home/u/proj2"}, []string{"proj", "proj2"})

	require.Empty(t, res.Diagnostics)
	require.Len(t, res.Paths, 2)
	assert.Equal(t, "proj", res.Paths[0].Key)
	assert.Equal(t, "/home/u/proj", res.Paths[0].LocalPath)
	assert.Equal(t, "proj2", res.Paths[1].Key)
	assert.Equal(t, "/home/u/proj2", res.Paths[1].LocalPath)
	assert.Equal(t, "proj2", res.Paths[1].Prefix)
}
