package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hansjm10/jeeves/internal/model"
)

func TestNew_EmptyTokenOrChannelDisables(t *testing.T) {
	assert.False(t, New("", "C123").Enabled())
	assert.False(t, New("xoxb-token", "").Enabled())
	assert.False(t, New("", "").Enabled())
}

func TestNew_BothSetEnables(t *testing.T) {
	assert.True(t, New("xoxb-token", "C123").Enabled())
}

func TestNotifyRunComplete_DisabledIsANoOp(t *testing.T) {
	c := New("", "")
	err := c.NotifyRunComplete(context.Background(), "acme/widgets#1", model.CompletionReasonWorkflowComplete, "")
	assert.NoError(t, err)
}
