package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

// 測試被拒絕的確認 frame 在線上帶明確的 success:false
func TestFrame_SuccessExplicitOnConfirmations(t *testing.T) {
	rejected, err := json.Marshal(Frame{
		Type:    FrameSubscribed,
		ChatID:  "c1",
		Success: SuccessFlag(false),
	})
	assert.NoError(t, err)
	assert.Contains(t, string(rejected), `"success":false`)

	accepted, err := json.Marshal(Frame{
		Type:    FrameUnsubscribed,
		ChatID:  "c1",
		Success: SuccessFlag(true),
	})
	assert.NoError(t, err)
	assert.Contains(t, string(accepted), `"success":true`)

	// 其他 frame 不帶 success 欄位
	plain, err := json.Marshal(MessageFrame(&Message{MessageID: "m1", ChatID: "c1"}))
	assert.NoError(t, err)
	assert.NotContains(t, string(plain), "success")
}
