package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-automation-dashboard/internal/campaign"
	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/settings"
	"social-automation-dashboard/internal/store/memory"
)

func newService(t *testing.T, tier license.Tier) (*campaign.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	now := time.Now()
	require.NoError(t, store.CreateLicense(context.Background(), &models.License{
		UserID:    "u1",
		Tier:      tier,
		IsActive:  true,
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
	}))
	isDup := func(err error) bool { return errors.Is(err, memory.ErrDuplicate) }
	return campaign.NewService(store, store, isDup, zerolog.Nop()), store
}

func TestAddKeyword_BoundedByTier(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, license.TierTrial)

	for i := 0; i < 3; i++ {
		_, err := svc.AddKeyword(ctx, "u1", campaign.KeywordRequest{Term: fmt.Sprintf("keyword %d", i)})
		require.NoError(t, err)
	}

	_, err := svc.AddKeyword(ctx, "u1", campaign.KeywordRequest{Term: "one too many"})
	var le *campaign.LimitError
	require.True(t, errors.As(err, &le), "expected LimitError, got %v", err)
	assert.Equal(t, campaign.CodeKeywordLimitReached, le.Code)
	assert.Equal(t, 3, le.Limit)

	keywords, err := svc.ListKeywords(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, keywords, 3)
}

func TestAddKeyword_RemoveFreesSlot(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, license.TierTrial)

	var last *models.Keyword
	for i := 0; i < 3; i++ {
		kw, err := svc.AddKeyword(ctx, "u1", campaign.KeywordRequest{Term: fmt.Sprintf("kw %d", i)})
		require.NoError(t, err)
		last = kw
	}
	require.NoError(t, svc.RemoveKeyword(ctx, "u1", last.ID))
	_, err := svc.AddKeyword(ctx, "u1", campaign.KeywordRequest{Term: "replacement"})
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.RemoveKeyword(ctx, "u1", "missing"), campaign.ErrNotFound)
}

func TestAddKeyword_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, license.TierBasic)

	_, err := svc.AddKeyword(ctx, "u1", campaign.KeywordRequest{Term: "   "})
	assert.True(t, settings.IsValidationError(err))

	_, err = svc.AddKeyword(ctx, "u1", campaign.KeywordRequest{Term: "Golang"})
	require.NoError(t, err)
	_, err = svc.AddKeyword(ctx, "u1", campaign.KeywordRequest{Term: "golang"})
	assert.ErrorIs(t, err, campaign.ErrDuplicateKeyword)

	_, err = svc.AddKeyword(ctx, "nobody", campaign.KeywordRequest{Term: "golang"})
	assert.ErrorIs(t, err, campaign.ErrNoLicense)
}

func TestTemplates_LengthByKind(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, license.TierBasic)

	_, err := svc.CreateTemplate(ctx, "u1", campaign.TemplateRequest{
		Name: "intro", Kind: models.TemplateConnectionNote, Body: strings.Repeat("a", 301),
	})
	var ve *settings.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "body")

	tpl, err := svc.CreateTemplate(ctx, "u1", campaign.TemplateRequest{
		Name: "intro", Kind: models.TemplateConnectionNote, Body: strings.Repeat("é", 300),
	})
	require.NoError(t, err)

	// the same body fits a follow-up
	_, err = svc.CreateTemplate(ctx, "u1", campaign.TemplateRequest{
		Name: "later", Kind: models.TemplateFollowUp, Body: strings.Repeat("a", 2000),
	})
	require.NoError(t, err)

	_, err = svc.CreateTemplate(ctx, "u1", campaign.TemplateRequest{Name: "x", Kind: "dm", Body: "hi"})
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "kind")

	updated, err := svc.UpdateTemplate(ctx, "u1", tpl.ID, campaign.TemplateRequest{
		Name: "intro v2", Kind: models.TemplateFollowUp, Body: "Thanks for connecting",
	})
	require.NoError(t, err)
	assert.Equal(t, "intro v2", updated.Name)

	templates, err := svc.ListTemplates(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, templates, 2)

	_, err = svc.UpdateTemplate(ctx, "u1", "missing", campaign.TemplateRequest{Name: "n", Kind: models.TemplateFollowUp, Body: "b"})
	assert.ErrorIs(t, err, campaign.ErrNotFound)

	require.NoError(t, svc.DeleteTemplate(ctx, "u1", tpl.ID))
	assert.ErrorIs(t, svc.DeleteTemplate(ctx, "u1", tpl.ID), campaign.ErrNotFound)
}
