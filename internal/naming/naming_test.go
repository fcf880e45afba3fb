package naming

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/models"
)

func fixedNow() time.Time {
	return time.Date(2024, time.March, 7, 9, 5, 3, 0, time.UTC)
}

func tagPtr(t models.DeltaTag) *models.DeltaTag { return &t }

func TestScanCodeWithPattern(t *testing.T) {
	p, err := New(config.NamingConfig{ScanPattern: "#repositoryName_#currentTimestamp_#deltaTag"}, nil)
	require.NoError(t, err)

	code, err := p.ScanCode("mime-types", tagPtr(models.DeltaTagOrigin), "main")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^mime-types_\d{8}_\d{6}_origin$`), code)
}

func TestScanCodeDefaultPattern(t *testing.T) {
	p, err := New(config.NamingConfig{}, fixedNow)
	require.NoError(t, err)

	tests := []struct {
		name   string
		tag    *models.DeltaTag
		branch string
		want   string
	}{
		{"plain", nil, "", "repo_20240307_090503"},
		{"origin", tagPtr(models.DeltaTagOrigin), "", "repo_20240307_090503_origin"},
		{"delta with branch", tagPtr(models.DeltaTagDelta), "feature/x", "repo_20240307_090503_delta_feature_x"},
		{"branch only", nil, "main", "repo_20240307_090503_main"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := p.ScanCode("repo", tt.tag, tt.branch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestScanCodeUserVariables(t *testing.T) {
	p, err := New(config.NamingConfig{
		ScanPattern: "#team-#ver-#version-#repositoryName-#unknown",
		Variables:   map[string]string{"ver": "v", "version": "1.2", "team": "core"},
	}, fixedNow)
	require.NoError(t, err)

	code, err := p.ScanCode("repo", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "core-v-1.2-repo-#unknown", code)
}

func TestScanCodeUserVariableDoesNotClobberBuiltins(t *testing.T) {
	p, err := New(config.NamingConfig{
		ScanPattern: "#repositoryName_#repository_#branchX_#branch",
		Variables:   map[string]string{"repository": "R", "branchX": "#branch", "branch": "ignored"},
	}, fixedNow)
	require.NoError(t, err)

	code, err := p.ScanCode("mime-types", nil, "main")
	require.NoError(t, err)
	assert.Equal(t, "mime-types_R_#branch_main", code)
}

func TestScanCodeBranchIsBoundedAndSanitized(t *testing.T) {
	p, err := New(config.NamingConfig{}, fixedNow)
	require.NoError(t, err)

	branches := []string{
		strings.Repeat("a/b.c", 200),
		strings.Repeat("ü", 300),
		"release/1.0 (hotfix)",
		strings.Repeat("x", 254),
	}
	allowed := regexp.MustCompile(`^[A-Za-z0-9_-]*$`)
	for _, branch := range branches {
		code, err := p.ScanCode("some-repository", tagPtr(models.DeltaTagDelta), branch)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(code), MaxCodeLength)

		prefix := "some-repository_20240307_090503_delta_"
		require.True(t, strings.HasPrefix(code, prefix))
		segment := strings.TrimPrefix(code, prefix)
		assert.Regexp(t, allowed, segment)
		assert.True(t, strings.HasPrefix(SanitizeBranch(branch), segment))
	}
}

func TestSanitizeBranch(t *testing.T) {
	assert.Equal(t, "feature_JIRA-12_fix_it", SanitizeBranch("feature/JIRA-12 fix.it"))
	assert.Equal(t, "__", SanitizeBranch("äö"))
}

func TestScanCodeRejectsLongRepositoryName(t *testing.T) {
	p, err := New(config.NamingConfig{}, fixedNow)
	require.NoError(t, err)

	_, err = p.ScanCode(strings.Repeat("r", 250), nil, "main")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestNewRejectsLongPattern(t *testing.T) {
	_, err := New(config.NamingConfig{ScanPattern: strings.Repeat("x", 255) + "#branch"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))

	_, err = New(config.NamingConfig{ProjectPattern: strings.Repeat("p", 300)}, nil)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestProjectCode(t *testing.T) {
	p, err := New(config.NamingConfig{}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "mime-types", p.ProjectCode("mime-types"))

	p, err = New(config.NamingConfig{
		ProjectPattern: "#org_#projectName",
		Variables:      map[string]string{"org": "acme"},
	}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "acme_mime-types", p.ProjectCode("mime-types"))
}
