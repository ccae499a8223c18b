package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenchworks/dealercomm/internal/adapter/repo/postgres"
	"github.com/wrenchworks/dealercomm/internal/domain"
)

func scanAgentRow(id string, status domain.AgentStatus) func(dest ...any) error {
	return func(dest ...any) error {
		now := time.Now().UTC()
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = "t1"
		*(dest[2].(*string)) = "follow up on unpaid invoice 42"
		*(dest[3].(*[]string)) = []string{"look up customer", "draft reminder"}
		*(dest[4].(*int)) = 1
		*(dest[5].(*[]byte)) = []byte(`{"goal":"follow up"}`)
		*(dest[6].(*[]byte)) = nil
		*(dest[7].(*int)) = 1
		*(dest[8].(*int)) = 10
		*(dest[9].(*domain.AgentStatus)) = status
		*(dest[10].(*string)) = ""
		*(dest[11].(**time.Time)) = &now
		*(dest[12].(*time.Time)) = now
		*(dest[13].(*time.Time)) = now
		return nil
	}
}

func TestAgentJobRepo_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts with checklist", func(t *testing.T) {
		pool := &poolStub{}
		repo := postgres.NewAgentJobRepo(pool)
		id, inserted, err := repo.Insert(ctx, domain.NewAgentJob{
			TenantID:      "t1",
			Goal:          "follow up on unpaid invoice 42",
			Checklist:     []string{"look up customer"},
			MaxIterations: 10,
		})
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.NotEmpty(t, id)
	})

	t.Run("dedups on source reference", func(t *testing.T) {
		pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
			*(dest[0].(*string)) = "agent-1"
			return nil
		}}}
		repo := postgres.NewAgentJobRepo(pool)
		id, inserted, err := repo.Insert(ctx, domain.NewAgentJob{
			TenantID:        "t1",
			Goal:            "follow up",
			SourceReference: "agent_invoice_t1_42",
		})
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, "agent-1", id)
		assert.Empty(t, pool.execSQL)
	})

	t.Run("rejects empty goal", func(t *testing.T) {
		repo := postgres.NewAgentJobRepo(&poolStub{})
		_, _, err := repo.Insert(ctx, domain.NewAgentJob{TenantID: "t1"})
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestAgentJobRepo_ClaimPending(t *testing.T) {
	ctx := context.Background()

	tx := &txStub{queryRows: &rowsStub{scans: []func(dest ...any) error{
		scanAgentRow("agent-1", domain.AgentPending),
	}}}
	pool := &poolStub{tx: tx}
	repo := postgres.NewAgentJobRepo(pool)

	jobs, err := repo.ClaimPending(ctx, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.AgentInProgress, jobs[0].Status)
	assert.True(t, tx.committed)
	require.Len(t, tx.execSQL, 1)
	assert.Contains(t, tx.execSQL[0], "status='in_progress'")

	jobs, err = repo.ClaimPending(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, jobs)
}

func TestAgentJobRepo_SaveAndGet(t *testing.T) {
	ctx := context.Background()

	pool := &poolStub{}
	repo := postgres.NewAgentJobRepo(pool)
	require.NoError(t, repo.Save(ctx, domain.AgentJob{
		ID:             "agent-1",
		CurrentStep:    2,
		SessionState:   []byte(`{"goal":"x"}`),
		IterationCount: 2,
		Status:         domain.AgentInProgress,
	}))
	require.Len(t, pool.execSQL, 1)
	assert.Contains(t, pool.execSQL[0], "UPDATE agent_jobs")

	getPool := &poolStub{row: rowStub{scan: scanAgentRow("agent-1", domain.AgentInProgress)}}
	repo = postgres.NewAgentJobRepo(getPool)
	job, err := repo.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", job.ID)
	assert.Equal(t, []string{"look up customer", "draft reminder"}, job.Checklist)
	assert.JSONEq(t, `{"goal":"follow up"}`, string(job.SessionState))

	notFound := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo = postgres.NewAgentJobRepo(notFound)
	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
