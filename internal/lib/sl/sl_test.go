package sl_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
)

func TestErr_ReturnsCorrectAttr(t *testing.T) {
	attr := sl.Err(errors.New("profile fetch failed"))

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, slog.StringValue("profile fetch failed"), attr.Value)
}

func TestErr_NilError(t *testing.T) {
	attr := sl.Err(nil)

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "<nil>", attr.Value.String())
}

func TestOp(t *testing.T) {
	attr := sl.Op("session.Resolver.SignIn")

	assert.Equal(t, "op", attr.Key)
	assert.Equal(t, "session.Resolver.SignIn", attr.Value.String())
}

func TestSince(t *testing.T) {
	attr := sl.Since(time.Now().Add(-50 * time.Millisecond))

	assert.Equal(t, "elapsed_ms", attr.Key)
	assert.GreaterOrEqual(t, attr.Value.Int64(), int64(50))
}

func TestNew_LocalIsTextWithDebug(t *testing.T) {
	var buf bytes.Buffer
	log := sl.New("local", &buf)

	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))
	log.Info("started")
	assert.Contains(t, buf.String(), "msg=started")
}

func TestNew_ProdIsJSONWithInfo(t *testing.T) {
	var buf bytes.Buffer
	log := sl.New("prod", &buf)

	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
	log.Info("started")
	assert.Contains(t, buf.String(), `"msg":"started"`)
}
