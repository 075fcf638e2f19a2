package entity

import (
	"errors"
	"testing"

	"github.com/jgivc/modsync/internal/common"
	"github.com/stretchr/testify/require"
)

const validDocument = `[
  {"name": "stdlib", "author": "puppetlabs", "version": "4.1.0",
   "checksum": "abc", "checksum_type": "sha256", "tag_list": ["x"],
   "dependencies": [{"name": "puppetlabs/concat", "version_requirement": ">= 1.0.0"}]},
  {"name": "apache", "author": "puppetlabs", "version": "1.0.0", "dependencies": []}
]`

func TestUpdateFromJSON(t *testing.T) {
	testCases := []struct {
		name        string
		docs        []string
		expectError bool
		field       string
		expected    []ModuleKey
	}{
		{
			name: "Array document",
			docs: []string{validDocument},
			expected: []ModuleKey{
				{Name: "stdlib", Author: "puppetlabs", Version: "4.1.0"},
				{Name: "apache", Author: "puppetlabs", Version: "1.0.0"},
			},
		},
		{
			name: "Wrapped document",
			docs: []string{`{"modules": [{"name": "ntp", "author": "me", "version": "0.1.0"}], "generated": "x"}`},
			expected: []ModuleKey{
				{Name: "ntp", Author: "me", Version: "0.1.0"},
			},
		},
		{
			name: "Repeated identity in one document",
			docs: []string{`[
				{"name": "ntp", "author": "me", "version": "0.1.0", "checksum": "first"},
				{"name": "ntp", "author": "me", "version": "0.1.0", "checksum": "second"}
			]`},
			expected: []ModuleKey{
				{Name: "ntp", Author: "me", Version: "0.1.0"},
			},
		},
		{
			name: "Merge of two documents",
			docs: []string{
				`[{"name": "ntp", "author": "me", "version": "0.1.0"}]`,
				`[{"name": "ntp", "author": "me", "version": "0.1.0"}, {"name": "ssh", "author": "me", "version": "2.0.0"}]`,
			},
			expected: []ModuleKey{
				{Name: "ntp", Author: "me", Version: "0.1.0"},
				{Name: "ssh", Author: "me", Version: "2.0.0"},
			},
		},
		{
			name:        "Missing author",
			docs:        []string{`[{"name": "ntp", "version": "0.1.0"}]`},
			expectError: true,
			field:       "author",
		},
		{
			name:        "Missing version",
			docs:        []string{`[{"name": "ntp", "author": "me"}]`},
			expectError: true,
			field:       "version",
		},
		{
			name:        "Object without modules",
			docs:        []string{`{"name": "ntp"}`},
			expectError: true,
		},
		{
			name:        "Scalar document",
			docs:        []string{`"modules"`},
			expectError: true,
		},
		{
			name:        "Broken JSON",
			docs:        []string{`[{"name": `},
			expectError: true,
		},
		{
			name:        "Record is not an object",
			docs:        []string{`["ntp"]`},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			md := NewRepositoryMetadata()

			var err error
			for _, doc := range tc.docs {
				if err = md.UpdateFromJSON([]byte(doc)); err != nil {
					break
				}
			}

			if tc.expectError {
				require.Error(t, err)

				var pe *common.ParseError
				require.True(t, errors.As(err, &pe))
				if tc.field != "" {
					require.Equal(t, tc.field, pe.Field)
				}

				return
			}

			require.NoError(t, err)

			keys := make([]ModuleKey, 0, md.Len())
			for _, m := range md.Modules() {
				keys = append(keys, m.Key())
			}
			require.Equal(t, tc.expected, keys)
		})
	}
}

func TestUpdateFromJSONLastWriteWins(t *testing.T) {
	md := NewRepositoryMetadata()
	require.NoError(t, md.UpdateFromJSON([]byte(`[{"name": "ntp", "author": "me", "version": "0.1.0", "checksum": "first"}]`)))
	require.NoError(t, md.UpdateFromJSON([]byte(`[{"name": "ntp", "author": "me", "version": "0.1.0", "checksum": "second"}]`)))

	m, ok := md.Get(ModuleKey{Name: "ntp", Author: "me", Version: "0.1.0"})
	require.True(t, ok)
	require.Equal(t, "second", m.Checksum)
	require.Equal(t, 1, md.Len())
}

func TestUpdateFromJSONInvalidDocumentIsNotMerged(t *testing.T) {
	md := NewRepositoryMetadata()
	err := md.UpdateFromJSON([]byte(`[{"name": "ntp", "author": "me", "version": "0.1.0"}, {"name": "bad"}]`))
	require.Error(t, err)
	require.Equal(t, 0, md.Len())
}

func TestUpdateFromJSONDependencies(t *testing.T) {
	md := NewRepositoryMetadata()
	require.NoError(t, md.UpdateFromJSON([]byte(validDocument)))

	m, ok := md.Get(ModuleKey{Name: "stdlib", Author: "puppetlabs", Version: "4.1.0"})
	require.True(t, ok)
	require.Equal(t, []Dependency{{Name: "puppetlabs/concat", VersionRequirement: ">= 1.0.0"}}, m.Dependencies)
	require.Equal(t, "sha256", m.ChecksumType)
}

func TestFilename(t *testing.T) {
	a := &Module{Name: "stdlib", Author: "puppetlabs", Version: "4.1.0"}
	b := &Module{Name: "stdlib", Author: "puppetlabs", Version: "4.1.0", Checksum: "ignored"}
	c := &Module{Name: "apache", Author: "puppetlabs", Version: "1.0.0"}

	require.Equal(t, "puppetlabs-stdlib-4.1.0.tar.gz", a.Filename())
	require.Equal(t, a.Filename(), b.Filename())
	require.NotEqual(t, a.Filename(), c.Filename())
	require.Equal(t, a.Filename(), a.Filename())
}
