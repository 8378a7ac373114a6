package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStableCodes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	a := New(&buf)
	a.Record(context.Background(), Event{
		Code:         UserSuspended,
		UserID:       "admin-1",
		TargetUserID: "user-7",
		TenantID:     "t1",
		Details:      map[string]any{"suspended": true},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "audit", line["msg"])
	require.Equal(t, "USER_SUSPENDED", line["code"])
	require.Equal(t, "admin-1", line["user_id"])
	require.Equal(t, HashID("user-7"), line["target_user_hash"])
	require.NotContains(t, buf.String(), "user-7")
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	var r Recorder
	r.Record(context.Background(), Event{Code: AuthSuccess})
	r.Record(context.Background(), Event{Code: MFAFailed})
	r.Record(context.Background(), Event{Code: MFAFailed})

	require.Equal(t, []Code{AuthSuccess, MFAFailed, MFAFailed}, r.Codes())
	require.Equal(t, 2, r.Count(MFAFailed))
	require.Len(t, HashID("x"), 16)
	require.Empty(t, HashID(""))
}
