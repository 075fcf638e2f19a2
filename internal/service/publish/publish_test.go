package publish

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jgivc/modsync/internal/adapter/mdadapter"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const hostingDir = "/srv/published"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRepo() *entity.Repository {
	return &entity.Repository{ID: "awesome_repo"}
}

func newTestDistributor(fs afero.Fs, index IndexRenderer) *Distributor {
	return NewDistributorWithFS(fs, index, nil, nil, Config{HostingDir: hostingDir, Workers: 2}, testLogger())
}

func TestValidateConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/srv/override", 0o755))
	d := newTestDistributor(fs, nil)

	testCases := []struct {
		name     string
		cfg      entity.PluginConfig
		valid    bool
		contains string
	}{
		{name: "No override", cfg: entity.PluginConfig{}, valid: true},
		{name: "Nil config", cfg: nil, valid: true},
		{name: "Null override", cfg: entity.PluginConfig{config.KeyHostingDirOverride: nil}, contains: "invalid"},
		{name: "Empty override", cfg: entity.PluginConfig{config.KeyHostingDirOverride: ""}, contains: "invalid"},
		{name: "Missing directory", cfg: entity.PluginConfig{config.KeyHostingDirOverride: "/foo/bar/baz"}, contains: "/foo/bar/baz"},
		{name: "Existing directory", cfg: entity.PluginConfig{config.KeyHostingDirOverride: "/srv/override"}, valid: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			valid, msg := d.ValidateConfig(testRepo(), tc.cfg)
			require.Equal(t, tc.valid, valid)

			if tc.valid {
				require.Empty(t, msg)
			} else {
				require.Contains(t, msg, tc.contains)
			}
		})
	}
}

func TestHostingLocations(t *testing.T) {
	d := newTestDistributor(afero.NewMemMapFs(), nil)

	locations := d.HostingLocations(testRepo(), nil)
	require.Equal(t, []string{filepath.Join(hostingDir, "awesome_repo")}, locations)

	locations = d.HostingLocations(testRepo(), entity.PluginConfig{config.KeyHostingDirOverride: "/srv/override"})
	require.Equal(t, []string{"/srv/override/awesome_repo"}, locations)
}

func TestPathsForUnit(t *testing.T) {
	d := newTestDistributor(afero.NewMemMapFs(), nil)

	paths := d.PathsForUnit(&entity.Unit{StoragePath: "/tmp/source/foo.tgz"})
	require.Equal(t, []string{"foo.tgz"}, paths)
}

func TestPublishMetadataForUnit(t *testing.T) {
	d := newTestDistributor(afero.NewMemMapFs(), nil)

	require.ErrorIs(t, d.PublishMetadataForUnit(&entity.Unit{StoragePath: "/tmp/foo.tgz"}), errNoManifest)

	var buf bytes.Buffer
	d.OpenManifest(&buf)

	require.NoError(t, d.PublishMetadataForUnit(&entity.Unit{StoragePath: "/tmp/foo.tgz", Checksum: "alpha", ChecksumType: "beta"}))
	require.NoError(t, d.PublishMetadataForUnit(&entity.Unit{StoragePath: "/tmp/bar.tgz", Checksum: "gamma", ChecksumType: "delta"}))
	require.NoError(t, d.CloseManifest())

	require.Equal(t, "foo.tgz,alpha,beta\nbar.tgz,gamma,delta\n", buf.String())
}

type fakeIndex struct {
	title   string
	entries []mdadapter.Entry
}

func (f *fakeIndex) Render(title string, entries []mdadapter.Entry) ([]byte, error) {
	f.title = title
	f.entries = entries

	return []byte("<html>" + title + "</html>"), nil
}

func writeUnits(t *testing.T, fs afero.Fs, names ...string) []*entity.Unit {
	t.Helper()

	units := make([]*entity.Unit, 0, len(names))
	for _, name := range names {
		m := &entity.Module{Name: name, Author: "puppetlabs", Version: "1.0.0"}
		path := filepath.Join("/content", m.Filename())
		require.NoError(t, afero.WriteFile(fs, path, []byte(name), 0o644))
		units = append(units, entity.NewUnit(m, path, "sum-"+name, "sha256"))
	}

	return units
}

func TestPublish(t *testing.T) {
	fs := afero.NewMemMapFs()
	index := &fakeIndex{}
	d := newTestDistributor(fs, index)
	units := writeUnits(t, fs, "stdlib", "apache", "concat")

	res, err := d.Publish(context.Background(), testRepo(), units, nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.Units)

	location := filepath.Join(hostingDir, "awesome_repo")
	require.Equal(t, location, res.Location)

	for _, u := range units {
		data, err := afero.ReadFile(fs, filepath.Join(location, filepath.Base(u.StoragePath)))
		require.NoError(t, err)
		require.Equal(t, u.Name, string(data))
	}

	manifest, err := afero.ReadFile(fs, filepath.Join(location, ManifestFilename))
	require.NoError(t, err)
	require.Equal(t,
		"puppetlabs-stdlib-1.0.0.tar.gz,sum-stdlib,sha256\n"+
			"puppetlabs-apache-1.0.0.tar.gz,sum-apache,sha256\n"+
			"puppetlabs-concat-1.0.0.tar.gz,sum-concat,sha256\n",
		string(manifest))

	page, err := afero.ReadFile(fs, filepath.Join(location, IndexFilename))
	require.NoError(t, err)
	require.Equal(t, "<html>awesome_repo</html>", string(page))
	require.Equal(t, "awesome_repo", index.title)
	require.Len(t, index.entries, 3)
}

func TestPublishInvalidConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := newTestDistributor(fs, nil)
	units := writeUnits(t, fs, "stdlib")

	_, err := d.Publish(context.Background(), testRepo(), units, entity.PluginConfig{config.KeyHostingDirOverride: "/missing"})

	var ce *common.ConfigurationError
	require.ErrorAs(t, err, &ce)
	require.Contains(t, ce.Msg, "/missing")

	// Nothing was created.
	exists, err := afero.DirExists(fs, hostingDir)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestPublishMissingArtifact(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := newTestDistributor(fs, nil)
	units := writeUnits(t, fs, "stdlib")
	units = append(units, &entity.Unit{Name: "gone", Author: "puppetlabs", Version: "1.0.0", StoragePath: "/content/gone.tar.gz"})

	_, err := d.Publish(context.Background(), testRepo(), units, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, os.ErrNotExist))

	exists, err := afero.Exists(fs, filepath.Join(hostingDir, "awesome_repo", ManifestFilename))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestPublishWithOverride(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/srv/override", 0o755))
	d := newTestDistributor(fs, nil)
	units := writeUnits(t, fs, "stdlib")

	res, err := d.Publish(context.Background(), testRepo(), units, entity.PluginConfig{config.KeyHostingDirOverride: "/srv/override"})
	require.NoError(t, err)
	require.Equal(t, "/srv/override/awesome_repo", res.Location)
	require.True(t, func() bool {
		ok, _ := afero.Exists(fs, "/srv/override/awesome_repo/puppetlabs-stdlib-1.0.0.tar.gz")

		return ok
	}())
}
