package document

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"plain", "ABC123", "ABC123"},
		{"reserved characters", `A/B:C*D?`, "A_B_C_D_"},
		{"control characters", "tab\there\n", "tab_here_"},
		{"trims dots and spaces", "  invoice. ", "invoice"},
		{"path traversal", "../etc", "_etc"},
		{"only reserved", "///", ""},
		{"empty", "", ""},
		{"unicode kept", "Rechnung-ä", "Rechnung-ä"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.value))
		})
	}
}

func TestSanitizeNameTruncates(t *testing.T) {
	got := SanitizeName(strings.Repeat("ü", 300))
	assert.LessOrEqual(t, len(got), maxNameLength)
	assert.True(t, strings.HasPrefix(got, "üü"))
	assert.Equal(t, 0, len(got)%len("ü"), "truncation must not split a rune")
}

func TestCandidateNameAndStem(t *testing.T) {
	assert.Equal(t, "ABC.pdf", CandidateName("ABC", ".pdf", 0))
	assert.Equal(t, "ABC_1.pdf", CandidateName("ABC", ".pdf", 1))
	assert.Equal(t, "ABC_12.pdf", CandidateName("ABC", ".pdf", 12))

	assert.Equal(t, "scan_0", Stem("/tmp/units/scan_0.pdf"))
	assert.Equal(t, "archive.tar", Stem("archive.tar.gz"))
}

func TestCopyNoClobber(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(t.TempDir(), "unit.pdf")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ABC.pdf"), []byte("existing"), 0644))

	dst, err := CopyNoClobber(src, dir, "ABC", ".pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ABC_1.pdf"), dst)

	existing, err := os.ReadFile(filepath.Join(dir, "ABC.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "existing", string(existing))

	copied, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(copied))

	assert.Equal(t, []string{"ABC.pdf", "ABC_1.pdf"}, dirNames(t, dir), "no temporary files left behind")

	_, err = os.Stat(src)
	assert.NoError(t, err, "source is copied, not moved")
}

func TestCopyNoClobberConcurrent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(t.TempDir(), "unit.pdf")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	const n = 8
	var wg sync.WaitGroup
	paths := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = CopyNoClobber(src, dir, "ABC", ".pdf")
		}(i)
	}
	wg.Wait()

	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		want = append(want, CandidateName("ABC", ".pdf", i))
	}
	sort.Strings(want)
	assert.Equal(t, want, dirNames(t, dir))
}

func TestCopyNoClobberErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := CopyNoClobber(filepath.Join(dir, "missing.pdf"), dir, "x", ".pdf")
	require.Error(t, err)
	assert.Empty(t, dirNames(t, dir))

	src := filepath.Join(dir, "unit.pdf")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))
	_, err = CopyNoClobber(src, filepath.Join(dir, "absent"), "x", ".pdf")
	require.Error(t, err)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err, fmt.Sprintf("read %s", dir))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
