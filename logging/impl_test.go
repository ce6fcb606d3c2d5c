package logging

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
)

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
		test.That(t, levelFromZap(level.AsZap()), test.ShouldEqual, tc.expected)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSubloggerAndLevels(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	sub := logger.Sublogger("octree")

	sub.Debugw("inserted", "points", 3)
	test.That(t, logs.FilterMessage("inserted").Len(), test.ShouldEqual, 1)
	entry := logs.FilterMessage("inserted").All()[0]
	test.That(t, entry.LoggerName, test.ShouldEqual, "octree")
	test.That(t, entry.ContextMap()["points"], test.ShouldEqual, int64(3))

	sub.SetLevel(WARN)
	test.That(t, sub.GetLevel(), test.ShouldEqual, WARN)
	sub.Info("dropped")
	sub.Warnf("kept %d", 1)
	test.That(t, logs.FilterMessage("dropped").Len(), test.ShouldEqual, 0)
	test.That(t, logs.FilterMessage("kept 1").Len(), test.ShouldEqual, 1)

	// the parent keeps its own level
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	nested := sub.Sublogger("leaf")
	nested.Errorw("boom")
	leaf := logs.Filter(func(e observer.LoggedEntry) bool { return e.LoggerName == "octree.leaf" })
	test.That(t, leaf.Len(), test.ShouldEqual, 1)
}

func TestContextDebugMode(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.SetLevel(INFO)

	logger.CDebugw(context.Background(), "hidden")
	test.That(t, logs.FilterMessage("hidden").Len(), test.ShouldEqual, 0)

	ctx := EnableDebugMode(context.Background(), "trace")
	test.That(t, IsDebugMode(ctx), test.ShouldBeTrue)
	logger.CDebugw(ctx, "shown", "stage", "filter")
	shown := logs.FilterMessage("shown").All()
	test.That(t, shown, test.ShouldHaveLength, 1)
	test.That(t, shown[0].ContextMap()["traceKey"], test.ShouldEqual, "trace")

	test.That(t, GetName(EnableDebugMode(context.Background(), "")), test.ShouldHaveLength, 6)
}

func TestGlobal(t *testing.T) {
	prev := Global()
	defer ReplaceGlobal(prev)

	blank := NewBlankLogger("blank")
	ReplaceGlobal(blank)
	test.That(t, Global(), test.ShouldEqual, blank)
	blank.Info("goes nowhere")
	test.That(t, blank.Sync(), test.ShouldBeNil)
}
