package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/codeflow/internal/models"
)

func TestGateSources(t *testing.T) {
	never := ConfirmationFunc(func(ctx context.Context, description string) (bool, error) {
		t.Fatalf("prompt should not be asked: %s", description)
		return false, nil
	})

	tests := []struct {
		name        string
		mode        models.Mode
		autoConfirm bool
		wantSource  models.GuardrailSource
	}{
		{"dry run", models.ModeDryRun, false, models.SourceDryRunSkip},
		{"dry run wins over auto confirm", models.ModeDryRun, true, models.SourceDryRunSkip},
		{"auto confirm", models.ModeNormal, true, models.SourceAutoConfirmFlag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(tt.mode, tt.autoConfirm, never)
			d, err := g.Authorize(context.Background(), models.StagePublish, "open PR")
			require.NoError(t, err)
			assert.True(t, d.Granted)
			assert.True(t, d.Requested)
			assert.Equal(t, tt.wantSource, d.Source)
			assert.Equal(t, "open PR", d.Description)
		})
	}
}

func TestGateInteractive(t *testing.T) {
	var asked []string
	prompt := ConfirmationFunc(func(ctx context.Context, description string) (bool, error) {
		asked = append(asked, description)
		return description == "apply patch", nil
	})
	g := NewGate(models.ModeNormal, false, prompt)

	d, err := g.Authorize(context.Background(), models.StageCode, "apply patch")
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, models.SourceInteractivePrompt, d.Source)

	d, err = g.Authorize(context.Background(), models.StagePublish, "open PR")
	require.NoError(t, err, "denial is not an error")
	assert.False(t, d.Granted)

	assert.Equal(t, []string{"apply patch", "open PR"}, asked)
	assert.Len(t, g.Decisions(), 2)
}

func TestGateConsultedTwiceIsViolation(t *testing.T) {
	g := NewGate(models.ModeNormal, true, nil)

	_, err := g.Authorize(context.Background(), models.StageCode, "apply")
	require.NoError(t, err)

	_, err = g.Authorize(context.Background(), models.StageCode, "apply again")
	require.Error(t, err)
	assert.True(t, IsPolicyViolation(err))
	assert.Len(t, g.Decisions(), 1, "violation must not record a second decision")
}

func TestGatePromptErrorDenies(t *testing.T) {
	boom := errors.New("EOF")
	g := NewGate(models.ModeNormal, false, ConfirmationFunc(func(ctx context.Context, description string) (bool, error) {
		return true, boom
	}))

	d, err := g.Authorize(context.Background(), models.StagePublish, "open PR")
	require.ErrorIs(t, err, boom)
	assert.False(t, d.Granted)

	recorded, ok := g.Decision(models.StagePublish)
	require.True(t, ok)
	assert.False(t, recorded.Granted)
}

func TestGateWithoutPromptDenies(t *testing.T) {
	g := NewGate(models.ModeNormal, false, nil)
	d, err := g.Authorize(context.Background(), models.StageCode, "apply")
	assert.Error(t, err)
	assert.False(t, d.Granted)
}
