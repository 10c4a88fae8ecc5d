package emergency

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/vesper-verify/pkg/confidence"
	"github.com/jihwankim/vesper-verify/pkg/routing"
	"github.com/jihwankim/vesper-verify/pkg/value"
)

func TestControllerStopTriggersCallbacksOnce(t *testing.T) {
	c := New(Config{StopFile: filepath.Join(t.TempDir(), "stop")})

	var calls int
	c.OnStop(func() { calls++ })
	c.OnStop(func() { calls++ })

	c.Stop("manual")
	c.Stop("manual again")

	assert.True(t, c.IsStopped())
	assert.Equal(t, 2, calls)

	select {
	case <-c.StopChannel():
	default:
		t.Fatal("expected stop channel to be closed")
	}
}

func TestControllerWatchStopFileDetectsFile(t *testing.T) {
	stopFile := filepath.Join(t.TempDir(), "stop")
	c := New(Config{StopFile: stopFile, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.Start(ctx)

	require.NoError(t, c.CreateStopFile())

	select {
	case <-c.StopChannel():
	case <-time.After(time.Second):
		t.Fatal("expected stop file to trigger emergency stop")
	}
}

func TestFreezeOnStopForcesOracleOnly(t *testing.T) {
	tracker := confidence.NewTracker()
	router := routing.NewRouter(tracker, routing.DefaultConfig(), nil)
	c := New(Config{StopFile: filepath.Join(t.TempDir(), "stop")})

	c.FreezeOnStop(router)
	c.Stop("operator requested freeze")

	decision := router.Route("any-node", value.Null())
	assert.Equal(t, routing.ModeOracleOnly, decision.Mode)
}

func TestRemoveStopFileIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stop")
	c := New(Config{StopFile: path})
	require.NoError(t, c.CreateStopFile())
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, c.RemoveStopFile())
	require.NoError(t, c.RemoveStopFile())
}
