package templates

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRendererStripsRestrictedHelpers(t *testing.T) {
	renderer := NewRenderer(nil)

	for _, name := range restrictedFuncs {
		t.Run("removes "+name, func(t *testing.T) {
			_, ok := renderer.funcs[name]
			require.Falsef(t, ok, "expected sprig helper %q to be removed", name)
		})
	}

	t.Run("rejects removed helper", func(t *testing.T) {
		_, err := renderer.Compile("inline", "{{ readFile \"/etc/passwd\" }}")
		require.Error(t, err)
	})

	t.Run("keeps string helpers", func(t *testing.T) {
		tmpl, err := renderer.Compile("inline", `{{ upper .name }} {{ join "," .list }}`)
		require.NoError(t, err)
		out, err := tmpl.Render(map[string]any{"name": "kiwi", "list": []string{"a", "b"}})
		require.NoError(t, err)
		require.Equal(t, "KIWI a,b", out)
	})
}

func TestRendererCompileRejectsEmpty(t *testing.T) {
	_, err := NewRenderer(nil).Compile("empty", "  \n")
	require.Error(t, err)
}

func TestRendererCompileFileHonoursSandbox(t *testing.T) {
	dir := t.TempDir()
	allowedDir := filepath.Join(dir, "prompts")
	require.NoError(t, os.MkdirAll(allowedDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(allowedDir, "body.tmpl"), []byte("hello {{ .name }}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "escape.tmpl"), []byte("nope"), 0o600))
	sandbox, err := NewSandbox(allowedDir)
	require.NoError(t, err)
	renderer := NewRenderer(sandbox)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "renders file inside sandbox", path: "body.tmpl", want: "hello world"},
		{name: "rejects escaping sandbox", path: "../escape.tmpl", wantErr: true},
		{name: "missing file", path: "absent.tmpl", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tmpl, err := renderer.CompileFile(tc.path)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "body.tmpl", tmpl.Name())
			rendered, err := tmpl.Render(map[string]any{"name": "world"})
			require.NoError(t, err)
			require.Equal(t, tc.want, rendered)
		})
	}

	_, err = NewRenderer(nil).CompileFile("body.tmpl")
	require.Error(t, err)
}

func TestSandboxResolve(t *testing.T) {
	_, err := NewSandbox("")
	require.Error(t, err)

	dir := t.TempDir()
	target := filepath.Join(dir, "system.tmpl")
	require.NoError(t, os.WriteFile(target, []byte("hi"), 0o600))
	sb, err := NewSandbox(dir)
	require.NoError(t, err)
	root, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	want := filepath.Join(root, "system.tmpl")

	resolved, err := sb.Resolve("system.tmpl")
	require.NoError(t, err)
	require.Equal(t, want, resolved)

	resolved, err = sb.Resolve("./sub/../system.tmpl")
	require.NoError(t, err)
	require.Equal(t, want, resolved)

	_, err = sb.Resolve("../outside")
	require.ErrorContains(t, err, "escapes")

	_, err = sb.Resolve("missing.tmpl")
	require.ErrorIs(t, err, os.ErrNotExist)

	require.True(t, sb.Exists("system.tmpl"))
	require.False(t, sb.Exists("missing.tmpl"))

	var nilSandbox *Sandbox
	_, err = nilSandbox.Resolve("anything")
	require.Error(t, err)
}

func TestSandboxResolveSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require admin on Windows CI")
	}
	root := t.TempDir()
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "data.txt")
	require.NoError(t, os.WriteFile(outsideFile, []byte("secret"), 0o600))
	require.NoError(t, os.Symlink(outsideFile, filepath.Join(root, "link.tmpl")))

	sb, err := NewSandbox(root)
	require.NoError(t, err)

	_, err = sb.Resolve("link.tmpl")
	require.ErrorContains(t, err, "escapes")
}
