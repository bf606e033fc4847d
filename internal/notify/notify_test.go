package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/d60-Lab/socialfeed/pkg/logger"
)

func TestNewPicksImplementation(t *testing.T) {
	assert.IsType(t, LogNotifier{}, New(nil, "t"))

	n := New([]string{"localhost:9092"}, "t")
	kn, ok := n.(*KafkaNotifier)
	require.True(t, ok)
	assert.Equal(t, "t", kn.writer.Topic)
	require.NoError(t, n.Close())
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(nil) })

	err := LogNotifier{}.Notify(context.Background(), Message{
		RecipientID: "u1", AlertID: "a1", Kind: "follow", Text: "@bob has started following you", CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("alert dispatched").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].ContextMap()["recipient"])
}
