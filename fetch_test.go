package ort

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/pgzip"
	"github.com/ortkit/ort-builder/fsx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchArtifacts(t *testing.T) {
	arts := []runArtifact{
		{Name: "onnxruntime-linux-x64"},
		{Name: "onnxruntime-win-arm64"},
		{Name: "test-logs"},
	}
	matched := matchArtifacts(arts, "onnxruntime-*")
	require.Len(t, matched, 2)
	assert.Equal(t, "onnxruntime-linux-x64", matched[0].Name)

	assert.Len(t, matchArtifacts(arts, "*"), 3)
	assert.Empty(t, matchArtifacts(arts, "nothing-*"))
}

func TestArchiveStem(t *testing.T) {
	assert.Equal(t, "/a/b/lib", archiveStem("/a/b/lib.tar.gz"))
	assert.Equal(t, "/a/b/lib", archiveStem("/a/b/lib.tgz"))
	assert.Equal(t, "/a/b/lib", archiveStem("/a/b/lib.zip"))
}

func makeZip(t *testing.T, entries map[string]string, modes map[string]fs.FileMode, symlinks map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		if m, ok := modes[name]; ok {
			hdr.SetMode(m)
		} else {
			hdr.SetMode(0644)
		}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	for name, target := range symlinks {
		hdr := &zip.FileHeader{Name: name, Method: zip.Store}
		hdr.SetMode(fs.ModeSymlink | 0777)
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(target))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestUnpackZipPreservesModesAndSymlinks(t *testing.T) {
	data := makeZip(t,
		map[string]string{
			"lib/libonnxruntime.so.1.20.0": "elf-bits",
			"bin/tool":                     "#!/bin/sh",
		},
		map[string]fs.FileMode{"bin/tool": 0755},
		map[string]string{"lib/libonnxruntime.so": "libonnxruntime.so.1.20.0"},
	)
	src := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(src, data, 0644))

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, unpackZip(src, dest))

	info, err := os.Stat(filepath.Join(dest, "bin", "tool"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0755), info.Mode().Perm())

	target, err := os.Readlink(filepath.Join(dest, "lib", "libonnxruntime.so"))
	require.NoError(t, err)
	assert.Equal(t, "libonnxruntime.so.1.20.0", target)

	got, err := os.ReadFile(filepath.Join(dest, "lib", "libonnxruntime.so.1.20.0"))
	require.NoError(t, err)
	assert.Equal(t, "elf-bits", string(got))
}

func TestUnpackZipRejectsPathTraversal(t *testing.T) {
	data := makeZip(t, map[string]string{"../evil.txt": "nope"}, nil, nil)
	src := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(src, data, 0644))

	err := unpackZip(src, filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal file path")
}

func makeTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestUnpackTarGz(t *testing.T) {
	data := makeTarGz(t, map[string]string{"include/onnxruntime_c_api.h": "// api"})
	src := filepath.Join(t.TempDir(), "a.tar.gz")
	require.NoError(t, os.WriteFile(src, data, 0644))

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, unpackTarGz(src, dest))

	got, err := os.ReadFile(filepath.Join(dest, "include", "onnxruntime_c_api.h"))
	require.NoError(t, err)
	assert.Equal(t, "// api", string(got))
}

func TestUnpackNestedArchives(t *testing.T) {
	dir := t.TempDir()
	inner := makeTarGz(t, map[string]string{"lib/libonnxruntime.a": "archive"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bundle.tar.gz"), inner, 0644))

	require.NoError(t, unpackNestedArchives(dir))

	assert.False(t, fsx.FileExists(filepath.Join(dir, "bundle.tar.gz")), "the nested archive is removed after unpacking")
	got, err := os.ReadFile(filepath.Join(dir, "bundle", "lib", "libonnxruntime.a"))
	require.NoError(t, err)
	assert.Equal(t, "archive", string(got))
}

func TestFetchArtifactsEndToEnd(t *testing.T) {
	artifactZip := makeZip(t, map[string]string{"lib/libonnxruntime.so": "elf-bits"}, nil, nil)

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/repos/microsoft/onnxruntime/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("branch"))
		assert.Equal(t, "success", r.URL.Query().Get("status"))
		fmt.Fprint(w, `{"workflow_runs":[{"id":42,"head_branch":"main","conclusion":"success"}]}`)
	})
	mux.HandleFunc("/repos/microsoft/onnxruntime/actions/runs/42/artifacts", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"artifacts":[
			{"id":1,"name":"onnxruntime-linux-x64","size_in_bytes":%d,"archive_download_url":"%s/download/1","expired":false},
			{"id":2,"name":"test-logs","size_in_bytes":3,"archive_download_url":"%s/download/2","expired":false}
		]}`, len(artifactZip), srv.URL, srv.URL)
	})
	mux.HandleFunc("/download/1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sekret", r.Header.Get("Authorization"))
		_, _ = w.Write(artifactZip)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	oldBase := githubAPIBase
	githubAPIBase = srv.URL
	t.Cleanup(func() { githubAPIBase = oldBase })

	outDir := t.TempDir()
	err := FetchArtifacts(&FetchOptions{
		Repo:    "microsoft/onnxruntime",
		Branch:  "main",
		Pattern: "onnxruntime-*",
		OutDir:  outDir,
		Token:   "sekret",
	})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(outDir, "onnxruntime-linux-x64", "lib", "libonnxruntime.so"))
	require.NoError(t, err)
	assert.Equal(t, "elf-bits", string(got))

	assert.False(t, fsx.DirExists(filepath.Join(outDir, "test-logs")), "non-matching artifacts are not downloaded")
}

func TestFetchArtifactsNoRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"workflow_runs":[]}`)
	}))
	defer srv.Close()

	oldBase := githubAPIBase
	githubAPIBase = srv.URL
	t.Cleanup(func() { githubAPIBase = oldBase })

	err := FetchArtifacts(&FetchOptions{Repo: "microsoft/onnxruntime", Branch: "gone", Pattern: "*", OutDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no successful runs")
}
