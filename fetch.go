package ort

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/pgzip"
	"github.com/ortkit/ort-builder/fsx"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// CI artifact fetching: instead of building locally, pull the library
// archives a GitHub Actions workflow already produced for a branch.

var githubAPIBase = "https://api.github.com"
const FetchTokenEnv = "FETCH_GH_ACCESS_TOKEN"

// FetchOptions selects which workflow artifacts to download.
type FetchOptions struct {
	// Repo is owner/name.
	Repo string
	// Workflow is a workflow file name such as build.yml. Empty matches
	// runs of any workflow.
	Workflow string
	Branch   string
	// Pattern filters artifact names, path.Match syntax.
	Pattern string
	OutDir  string
	Token   string
}

type workflowRun struct {
	ID         int64  `json:"id"`
	HeadBranch string `json:"head_branch"`
	Conclusion string `json:"conclusion"`
}

type runsResponse struct {
	WorkflowRuns []workflowRun `json:"workflow_runs"`
}

type runArtifact struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	SizeInBytes        int64  `json:"size_in_bytes"`
	ArchiveDownloadURL string `json:"archive_download_url"`
	Expired            bool   `json:"expired"`
}

type artifactsResponse struct {
	Artifacts []runArtifact `json:"artifacts"`
}

func newFetchCmd() *cobra.Command {
	opts := &FetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download library artifacts from the latest successful CI run",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			opts.Token = os.Getenv(FetchTokenEnv)
			return FetchArtifacts(opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Repo, "repo", "microsoft/onnxruntime", "GitHub repository (owner/name)")
	flags.StringVar(&opts.Workflow, "workflow", "", "Workflow file name; empty matches any workflow")
	flags.StringVar(&opts.Branch, "branch", "main", "Branch whose latest successful run to use")
	flags.StringVar(&opts.Pattern, "name", "*", "Glob filter for artifact names")
	flags.StringVar(&opts.OutDir, "out", "artifacts", "Directory artifacts are unpacked into")
	return cmd
}

// FetchArtifacts locates the newest successful run for the branch, picks
// the artifacts matching the name pattern and unpacks each into its own
// directory under OutDir.
func FetchArtifacts(opts *FetchOptions) error {
	client := &http.Client{}

	run, err := latestRun(client, opts)
	if err != nil {
		return err
	}

	arts, err := runArtifacts(client, opts, run.ID)
	if err != nil {
		return err
	}
	matched := matchArtifacts(arts, opts.Pattern)
	if len(matched) == 0 {
		return fmt.Errorf("run %d has no artifacts matching %q", run.ID, opts.Pattern)
	}

	for _, a := range matched {
		if a.Expired {
			Warnf("artifact %q has expired; skipping", a.Name)
			continue
		}
		zipPath, err := downloadArtifact(client, opts.Token, &a)
		if err != nil {
			return err
		}
		dest := filepath.Join(opts.OutDir, a.Name)
		err = unpackZip(zipPath, dest)
		os.Remove(zipPath)
		if err != nil {
			return fmt.Errorf("unpack %s: %w", a.Name, err)
		}
		if err := unpackNestedArchives(dest); err != nil {
			return fmt.Errorf("unpack %s: %w", a.Name, err)
		}
	}
	return nil
}

// matchArtifacts keeps the artifacts whose name matches the glob pattern.
func matchArtifacts(arts []runArtifact, pattern string) []runArtifact {
	var out []runArtifact
	for _, a := range arts {
		if ok, err := path.Match(pattern, a.Name); err == nil && ok {
			out = append(out, a)
		}
	}
	return out
}

func latestRun(client *http.Client, opts *FetchOptions) (*workflowRun, error) {
	var endpoint string
	if opts.Workflow != "" {
		endpoint = fmt.Sprintf("%s/repos/%s/actions/workflows/%s/runs", githubAPIBase, opts.Repo, opts.Workflow)
	} else {
		endpoint = fmt.Sprintf("%s/repos/%s/actions/runs", githubAPIBase, opts.Repo)
	}
	q := url.Values{}
	q.Set("branch", opts.Branch)
	q.Set("status", "success")
	q.Set("per_page", "1")

	var runs runsResponse
	if err := getJSON(client, opts.Token, endpoint+"?"+q.Encode(), &runs); err != nil {
		return nil, err
	}
	if len(runs.WorkflowRuns) == 0 {
		return nil, fmt.Errorf("no successful runs for %s on branch %s", opts.Repo, opts.Branch)
	}
	return &runs.WorkflowRuns[0], nil
}

func runArtifacts(client *http.Client, opts *FetchOptions, runID int64) ([]runArtifact, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/actions/runs/%d/artifacts?per_page=100", githubAPIBase, opts.Repo, runID)
	var resp artifactsResponse
	if err := getJSON(client, opts.Token, endpoint, &resp); err != nil {
		return nil, err
	}
	return resp.Artifacts, nil
}

func getJSON(client *http.Client, token, endpoint string, v any) error {
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("GET %s: %s: %s", endpoint, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// downloadArtifact streams the artifact zip into a temp file, with a byte
// progress bar sized from the API's size report.
func downloadArtifact(client *http.Client, token string, a *runArtifact) (string, error) {
	req, err := http.NewRequest(http.MethodGet, a.ArchiveDownloadURL, nil)
	if err != nil {
		return "", err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: %s", a.Name, resp.Status)
	}

	f, err := os.CreateTemp("", "ortb-artifact-*.zip")
	if err != nil {
		return "", err
	}
	bar := progressbar.DefaultBytes(a.SizeInBytes, a.Name+".zip")
	_, err = io.Copy(io.MultiWriter(f, bar), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("download %s: %w", a.Name, err)
	}
	return f.Name(), nil
}

// unpackZip extracts an archive into dest, keeping unix modes and symlink
// entries. Entries escaping dest are rejected.
func unpackZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}
	for _, f := range r.File {
		fpath := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) && fpath != dest {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}
		mode := f.Mode()
		switch {
		case f.FileInfo().IsDir():
			if err := fsx.Mkdirp(fpath); err != nil {
				return err
			}
		case mode&fs.ModeSymlink != 0:
			target, err := readZipEntry(f)
			if err != nil {
				return err
			}
			if err := fsx.Mkdirp(filepath.Dir(fpath)); err != nil {
				return err
			}
			if err := os.Symlink(string(target), fpath); err != nil {
				return err
			}
		default:
			if err := writeZipEntry(f, fpath, mode); err != nil {
				return err
			}
		}
	}
	return nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func writeZipEntry(f *zip.File, fpath string, mode fs.FileMode) error {
	if err := fsx.Mkdirp(filepath.Dir(fpath)); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		out.Close()
		return err
	}
	_, err = io.Copy(out, rc)
	rc.Close()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// unpackNestedArchives expands tarballs and zips the artifact zip itself
// contained, each into a directory named after the archive stem, deleting
// the archive afterwards.
func unpackNestedArchives(dir string) error {
	var archives []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if isNestedArchive(p) {
			archives = append(archives, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range archives {
		dest := archiveStem(p)
		if strings.HasSuffix(p, ".zip") {
			err = unpackZip(p, dest)
		} else {
			err = unpackTarGz(p, dest)
		}
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil {
			return err
		}
	}
	return nil
}

func isNestedArchive(p string) bool {
	return strings.HasSuffix(p, ".zip") || strings.HasSuffix(p, ".tar.gz") || strings.HasSuffix(p, ".tgz")
}

// archiveStem is the archive path with all archive extensions removed.
func archiveStem(p string) string {
	for _, ext := range []string{".zip", ".tgz", ".gz", ".tar"} {
		p = strings.TrimSuffix(p, ext)
	}
	return p
}

func unpackTarGz(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := pgzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fpath := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) && fpath != dest {
			return fmt.Errorf("illegal file path in archive: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsx.Mkdirp(fpath); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := fsx.Mkdirp(filepath.Dir(fpath)); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, fpath); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := fsx.Mkdirp(filepath.Dir(fpath)); err != nil {
				return err
			}
			out, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tr)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
		}
	}
}
