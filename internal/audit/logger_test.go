package audit

import (
	"context"
	"testing"

	"github.com/bengobox/oauth2-provider/internal/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordAndList(t *testing.T) {
	l := New(dbtest.New(t), zap.NewNop())
	ctx := context.Background()

	l.Record(ctx, Entry{Action: ActionTokenIssued, Resource: "oauth2_token", ResourceID: "t1", Context: map[string]any{"grant_type": "client_credentials"}})
	l.Record(ctx, Entry{UserID: "u1", Action: ActionUserLogin, IPAddress: "127.0.0.1"})
	l.Record(ctx, Entry{})

	rows, err := l.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byAction := map[string]Row{}
	for _, r := range rows {
		byAction[r.Action] = r
	}
	assert.False(t, byAction[ActionTokenIssued].UserID.Valid)
	assert.JSONEq(t, `{"grant_type":"client_credentials"}`, byAction[ActionTokenIssued].Context)
	assert.Equal(t, "u1", byAction[ActionUserLogin].UserID.String)
	assert.Equal(t, "{}", byAction[ActionUserLogin].Context)
}

func TestRecordOnNilLogger(t *testing.T) {
	var l *Logger
	l.Record(context.Background(), Entry{Action: ActionUserLogin})
}
