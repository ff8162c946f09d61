package properties

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileYieldsEmpty(t *testing.T) {
	props, found, err := Load(filepath.Join(t.TempDir(), "key.properties"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, props.Len())
	assert.Nil(t, props.Lookup("keyAlias"))
}

func TestLoadParsesKeyValueLines(t *testing.T) {
	path := writeFile(t, t.TempDir(), "key.properties", "keyAlias=release\nstorePassword=secret\n")

	props, found, err := Load(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, props.Len())

	v, ok := props.Get("keyAlias")
	assert.True(t, ok)
	assert.Equal(t, "release", v)

	v, ok = props.Get("storePassword")
	assert.True(t, ok)
	assert.Equal(t, "secret", v)

	_, ok = props.Get("keyPassword")
	assert.False(t, ok)
	assert.Equal(t, []string{"keyAlias", "storePassword"}, props.Keys())
}

func TestLoadJavaSyntax(t *testing.T) {
	content := "# comment\n" +
		"! another comment\n" +
		"keyAlias : upload\n" +
		"keyPassword   pa\\\n" +
		"    ss\n" +
		"storeFile=C:\\\\keys\\\\upload.jks\n" +
		"empty=\n"
	path := writeFile(t, t.TempDir(), "key.properties", content)

	props, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"keyAlias":    "upload",
		"keyPassword": "pass",
		"storeFile":   `C:\keys\upload.jks`,
		"empty":       "",
	}, props.Map())
}

func TestLoadDoesNotExpandReferences(t *testing.T) {
	path := writeFile(t, t.TempDir(), "key.properties", "keyPassword=${storePassword}\n")

	props, _, err := Load(path)
	require.NoError(t, err)

	v, _ := props.Get("keyPassword")
	assert.Equal(t, "${storePassword}", v)
}

func TestLoadRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "key.properties"), 0o755))

	_, found, err := Load(filepath.Join(dir, "key.properties"))
	assert.True(t, found)
	assert.ErrorIs(t, err, ErrNotRegularFile)
}

func TestLookupReturnsCopy(t *testing.T) {
	props := FromMap(map[string]string{"keyAlias": "release"})

	first := props.Lookup("keyAlias")
	require.NotNil(t, first)
	*first = "changed"

	v, _ := props.Get("keyAlias")
	assert.Equal(t, "release", v)
}

func TestParse(t *testing.T) {
	props, err := Parse("keyAlias=release\nstorePassword=secret")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"keyAlias": "release", "storePassword": "secret"}, props.Map())
}

func TestZeroValueIsEmpty(t *testing.T) {
	var props Properties
	assert.Equal(t, 0, props.Len())
	assert.Empty(t, props.Keys())
	assert.Nil(t, props.Lookup("any"))
}

func TestLoadDecodesLatin1WhileParseTakesUTF8(t *testing.T) {
	dir := t.TempDir()

	latin1 := writeFile(t, dir, "latin1.properties", "name=caf\xe9\n")
	props, _, err := Load(latin1)
	require.NoError(t, err)
	v, _ := props.Get("name")
	assert.Equal(t, "café", v)

	utf8 := writeFile(t, dir, "utf8.properties", "name=café\n")
	props, _, err = Load(utf8)
	require.NoError(t, err)
	v, _ = props.Get("name")
	assert.Equal(t, "cafÃ©", v, "UTF-8 bytes read as Latin-1, as Java does")

	props, err = Parse("name=café\n")
	require.NoError(t, err)
	v, _ = props.Get("name")
	assert.Equal(t, "café", v)
}
