package assistant

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoInvoker(t *testing.T) {
	inv := &DemoInvoker{}

	t.Run("pipeline request streams lines", func(t *testing.T) {
		var lines []string
		res, err := inv.Invoke(context.Background(), Request{
			Kind:     KindPipeline,
			Prompt:   "develop story 5-2",
			OnOutput: func(line string) { lines = append(lines, line) },
		})
		require.NoError(t, err)
		assert.NotEmpty(t, lines)
		assert.Contains(t, res.Text, "Done.")
	})

	t.Run("verify request returns parsable json", func(t *testing.T) {
		res, err := inv.Invoke(context.Background(), Request{Kind: KindVerify, Prompt: "verify 5-2"})
		require.NoError(t, err)

		var report map[string]any
		require.NoError(t, json.Unmarshal([]byte(res.Text), &report))
		assert.Equal(t, true, report["overall_implemented"])
	})

	t.Run("cancelled context stops pacing", func(t *testing.T) {
		paced := NewDemoInvoker()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := paced.Invoke(ctx, Request{Kind: KindPipeline})
		assert.Error(t, err)
	})
}
