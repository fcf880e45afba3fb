package retention

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/deltascan/internal/backend/backendtest"
	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/models"
)

func scans(ids ...int64) []models.RemoteScan {
	out := make([]models.RemoteScan, 0, len(ids))
	for _, id := range ids {
		code := fmt.Sprintf("scan-%d", id)
		out = append(out, models.RemoteScan{ID: id, Code: &code})
	}
	return out
}

func seeded(list []models.RemoteScan) *backendtest.Backend {
	b := backendtest.New()
	for _, s := range list {
		b.AddScan("proj", s, models.StatusFinished)
	}
	return b
}

func TestNewPolicyRejectsNonPositive(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := NewPolicy(n)
		require.Error(t, err)
		assert.True(t, errors.Is(err, config.ErrInvalidConfig))
	}
	p, err := NewPolicy(3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.MaxDeltaScansPerBranch)
}

func TestEnforceDeletesOldest(t *testing.T) {
	existing := scans(10, 9, 8, 7, 6)
	b := seeded(existing)
	policy, err := NewPolicy(3)
	require.NoError(t, err)

	deleted := NewEnforcer(b).Enforce(context.Background(), existing, policy)

	assert.Equal(t, []string{"scan-8", "scan-7", "scan-6"}, deleted)
	remaining, err := b.ListScans(context.Background(), "proj")
	require.NoError(t, err)
	assert.ElementsMatch(t, scans(10, 9), remaining)
}

func TestEnforceKeepsLimitMinusOne(t *testing.T) {
	for n := 0; n <= 6; n++ {
		for limit := 1; limit <= 6; limit++ {
			t.Run(fmt.Sprintf("n=%d/limit=%d", n, limit), func(t *testing.T) {
				var ids []int64
				for i := n; i > 0; i-- {
					ids = append(ids, int64(i))
				}
				existing := scans(ids...)
				b := seeded(existing)

				NewEnforcer(b).Enforce(context.Background(), existing, Policy{MaxDeltaScansPerBranch: limit})

				remaining, err := b.ListScans(context.Background(), "proj")
				require.NoError(t, err)
				want := min(n, limit-1)
				require.Len(t, remaining, want)
				assert.ElementsMatch(t, existing[:want], remaining)
			})
		}
	}
}

func TestEnforceSkipsFailedDeletions(t *testing.T) {
	existing := scans(5, 4, 3, 2)
	b := seeded(existing)
	b.Failures["DeleteScan:scan-3"] = errors.New("backend unavailable")

	deleted := NewEnforcer(b).Enforce(context.Background(), existing, Policy{MaxDeltaScansPerBranch: 2})

	assert.Equal(t, []string{"scan-4", "scan-2"}, deleted)
}

func TestEnforceWithinLimit(t *testing.T) {
	existing := scans(2, 1)
	b := seeded(existing)

	deleted := NewEnforcer(b).Enforce(context.Background(), existing, Policy{MaxDeltaScansPerBranch: 5})

	assert.Empty(t, deleted)
	assert.Empty(t, b.Deleted())
}
