package policy

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/screen"
)

func dailyTask() *actions.Task {
	return &actions.Task{
		Name: "daily",
		Steps: []actions.Step{
			{Expect: "MainMenu", Action: actions.Tap(100, 200)},
			{Expect: "QuestList", Action: actions.TapMatch()},
			{Expect: "BattleScreen", Action: actions.Done()},
		},
		Ignorable: []actions.Ignorable{
			{State: "AdPopup", Action: actions.KeyPress("KEYCODE_BACK")},
			{State: "RewardPopup", Action: actions.TapMatch()},
		},
	}
}

func state(name string) screen.State {
	return screen.State{Name: name, Score: 0.95}
}

func boxed(name string, box image.Rectangle) screen.State {
	return screen.State{Name: name, Score: 0.95, Box: box}
}

func TestExpectedStateActsAndAdvances(t *testing.T) {
	task := dailyTask()
	cur := NewCursor(len(task.Steps))
	p := New(2)

	d := p.Next(task, cur, state("MainMenu"))
	assert.Equal(t, DecisionAct, d.Kind)
	assert.Equal(t, actions.Tap(100, 200), d.Action)
	assert.Equal(t, 0, d.Step)
	assert.Equal(t, "QuestList", d.Expect)
	assert.Equal(t, "MainMenu", d.Leaving)
	assert.Equal(t, 1, cur.Step())
}

func TestTapMatchResolvesToBoxCenter(t *testing.T) {
	task := dailyTask()
	cur := NewCursor(len(task.Steps))
	cur.Advance()
	p := New(2)

	d := p.Next(task, cur, boxed("QuestList", image.Rect(40, 60, 80, 100)))
	require.Equal(t, DecisionAct, d.Kind)
	assert.Equal(t, actions.Tap(60, 80), d.Action)
	assert.False(t, d.Action.AtMatch)
}

func TestTapMatchWithoutBoxBlocks(t *testing.T) {
	task := dailyTask()
	cur := NewCursor(len(task.Steps))
	cur.Advance()

	d := New(2).Next(task, cur, state("QuestList"))
	assert.Equal(t, DecisionBlocked, d.Kind)
	assert.Equal(t, 1, cur.Step(), "cursor must not move when nothing was sent")
}

func TestDoneStep(t *testing.T) {
	task := dailyTask()
	cur := NewCursor(len(task.Steps))
	cur.Advance()
	cur.Advance()
	p := New(2)

	d := p.Next(task, cur, state("BattleScreen"))
	assert.Equal(t, DecisionDone, d.Kind)
	assert.True(t, cur.Finished())

	assert.Equal(t, DecisionDone, p.Next(task, cur, state("Anything")).Kind)
}

func TestIgnorableIsDismissedWithoutAdvancing(t *testing.T) {
	task := dailyTask()
	cur := NewCursor(len(task.Steps))
	p := New(0)

	d := p.Next(task, cur, state("AdPopup"))
	assert.Equal(t, DecisionDismiss, d.Kind)
	assert.Equal(t, actions.KeyPress("KEYCODE_BACK"), d.Action)
	assert.Equal(t, "MainMenu", d.Expect)
	assert.Equal(t, 0, cur.Step())
	assert.Equal(t, 0, cur.Mismatches())

	d = p.Next(task, cur, boxed("RewardPopup", image.Rect(10, 10, 30, 20)))
	assert.Equal(t, DecisionDismiss, d.Kind)
	assert.Equal(t, actions.Tap(20, 15), d.Action)
}

func TestMismatchWaitsThenBlocks(t *testing.T) {
	task := dailyTask()
	cur := NewCursor(len(task.Steps))
	p := New(2)

	for i := 0; i < 2; i++ {
		d := p.Next(task, cur, screen.UnknownState(time.Time{}))
		assert.Equal(t, DecisionWait, d.Kind)
	}
	d := p.Next(task, cur, state("BattleScreen"))
	assert.Equal(t, DecisionBlocked, d.Kind)
	assert.Equal(t, 3, cur.Mismatches())
	assert.Equal(t, 0, cur.Step())

	// seeing the expected state clears the count
	p.Next(task, cur, state("MainMenu"))
	assert.Equal(t, 0, cur.Mismatches())
}

func TestZeroToleranceBlocksImmediately(t *testing.T) {
	task := dailyTask()
	d := New(0).Next(task, NewCursor(len(task.Steps)), screen.UnknownState(time.Time{}))
	assert.Equal(t, DecisionBlocked, d.Kind)
}

func TestNoGestureOnMismatch(t *testing.T) {
	task := dailyTask()
	p := New(1)
	allowed := map[string]bool{"MainMenu": true, "AdPopup": true, "RewardPopup": true}

	for _, name := range []string{"MainMenu", "QuestList", "BattleScreen", "AdPopup", "RewardPopup", "Shop", screen.Unknown, ""} {
		for step := 0; step < len(task.Steps); step++ {
			cur := NewCursor(len(task.Steps))
			for i := 0; i < step; i++ {
				cur.Advance()
			}
			for round := 0; round < 3; round++ {
				d := p.Next(task, cur, boxed(name, image.Rect(0, 0, 10, 10)))
				switch d.Kind {
				case DecisionAct:
					assert.Equal(t, task.Steps[d.Step].Expect, name, "step %d acted on %q", step, name)
				case DecisionDismiss:
					assert.True(t, allowed[name], "step %d dismissed %q", step, name)
				default:
					assert.Equal(t, actions.KindNone, d.Action.Kind,
						"%s decision on %q at step %d carries %v", d.Kind, name, step, d.Action)
					assert.False(t, d.Action.IsGesture())
				}
			}
		}
	}
}

func TestCursorResync(t *testing.T) {
	task := dailyTask()
	cur := NewCursor(len(task.Steps))

	assert.True(t, cur.Resync(task, "MainMenu"))
	assert.Equal(t, 0, cur.Step())

	assert.True(t, cur.Resync(task, "QuestList"))
	assert.Equal(t, 1, cur.Step())

	assert.False(t, cur.Resync(task, "MainMenu"))
	assert.Equal(t, 1, cur.Step())

	cur.Rewind()
	cur.Rewind()
	assert.Equal(t, 0, cur.Step())
}
