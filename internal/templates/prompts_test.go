package templates

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/domainscout/internal/opportunity"
)

func testOpportunity(t *testing.T) opportunity.Opportunity {
	t.Helper()
	opp, err := opportunity.New("tienda.cl", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return opp
}

func TestEmbeddedPromptsWithHistory(t *testing.T) {
	prompts, err := NewPrompts("")
	require.NoError(t, err)
	require.Empty(t, prompts.Folder())

	opp := testOpportunity(t)
	opp.Enrichment = opportunity.Enrichment{
		SnapshotCount:   12,
		FirstSeen:       time.Date(2010, 1, 2, 0, 0, 0, 0, time.UTC),
		LastSeen:        time.Date(2019, 6, 30, 0, 0, 0, 0, time.UTC),
		ContentCategory: opportunity.ContentCommerce,
		HadPublicSite:   true,
		Checked:         true,
	}

	system, user, err := prompts.Render(NewPromptData(opp))
	require.NoError(t, err)
	require.Contains(t, system, "premium, brandable, keyword, generic, low_value")
	require.Contains(t, system, "estimated_value_clp")
	require.Contains(t, system, "strict JSON")
	require.Contains(t, user, "Domain: tienda.cl")
	require.Contains(t, user, "tienda (6 characters)")
	require.Contains(t, user, "Archived snapshots: 12")
	require.Contains(t, user, "First seen: 2010-01-02")
	require.Contains(t, user, "Last seen: 2019-06-30")
	require.Contains(t, user, "Past content: commerce")
	require.NotContains(t, user, "no archived history")
}

func TestEmbeddedPromptsWithoutHistory(t *testing.T) {
	prompts, err := NewPrompts("")
	require.NoError(t, err)

	opp := testOpportunity(t)
	opp.Enrichment = opportunity.Enrichment{Checked: true}

	_, user, err := prompts.Render(NewPromptData(opp))
	require.NoError(t, err)
	require.Contains(t, user, "no archived history was found")
	require.NotContains(t, user, "Archived snapshots")
}

func TestPromptsRenderIsDeterministic(t *testing.T) {
	prompts, err := NewPrompts("")
	require.NoError(t, err)
	data := NewPromptData(testOpportunity(t))

	s1, u1, err := prompts.Render(data)
	require.NoError(t, err)
	s2, u2, err := prompts.Render(data)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
	require.Equal(t, u1, u2)
}

func TestFolderOverridesOnePrompt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, UserTemplate), []byte("custom {{ .Label | upper }}"), 0o600))

	prompts, err := NewPrompts(dir)
	require.NoError(t, err)

	system, user, err := prompts.Render(NewPromptData(testOpportunity(t)))
	require.NoError(t, err)
	require.Equal(t, "custom TIENDA", user)
	require.Contains(t, system, "strict JSON", "system prompt falls back to the embedded copy")
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, UserTemplate)
	require.NoError(t, os.WriteFile(path, []byte("v1 {{ .Domain }}"), 0o600))

	prompts, err := NewPrompts(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{{ .Domain "), 0o600))
	require.Error(t, prompts.Reload())

	_, user, err := prompts.Render(NewPromptData(testOpportunity(t)))
	require.NoError(t, err)
	require.Equal(t, "v1 tienda.cl", user)
}

func TestNewPromptsRejectsMissingFolder(t *testing.T) {
	_, err := NewPrompts(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, UserTemplate)
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	prompts, err := NewPrompts(dir)
	require.NoError(t, err)

	reloaded := make(chan struct{}, 4)
	watcher, err := prompts.Watch(context.Background(), func() { reloaded <- struct{}{} }, nil)
	require.NoError(t, err)
	t.Cleanup(watcher.Stop)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o600))

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for prompt reload")
	}
	require.Eventually(t, func() bool {
		_, user, err := prompts.Render(NewPromptData(testOpportunity(t)))
		return err == nil && user == "v2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchRequiresFolder(t *testing.T) {
	prompts, err := NewPrompts("")
	require.NoError(t, err)
	_, err = prompts.Watch(context.Background(), nil, nil)
	require.Error(t, err)
}
