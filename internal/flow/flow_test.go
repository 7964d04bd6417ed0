package flow

import (
	"testing"
	"time"

	"github.com/SyzbaLinux/hustleprenureacademy/internal/models"
	"github.com/SyzbaLinux/hustleprenureacademy/internal/store"
)

const testPhone = "263771234567"

func TestTransitionCreatesFlow(t *testing.T) {
	st := store.NewInMemoryStore()
	fs := NewFlowStore(st)

	err := fs.Transition(testPhone, models.StateMainMenu, nil)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	f, err := fs.Current(testPhone)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if f == nil {
		t.Fatal("expected an active flow, got nil")
	}
	if f.CurrentState != models.StateMainMenu {
		t.Errorf("expected state %s, got %s", models.StateMainMenu, f.CurrentState)
	}
	if f.PreviousState != "" {
		t.Errorf("expected empty previous state on first transition, got %s", f.PreviousState)
	}
	if !f.ExpiresAt.After(time.Now()) {
		t.Error("expected expiry in the future")
	}
}

func TestTransitionRecordsPreviousStateAndMergesContext(t *testing.T) {
	st := store.NewInMemoryStore()
	fs := NewFlowStore(st)

	if err := fs.Transition(testPhone, models.StateBrowsingCategories, map[string]string{
		models.CtxOfferingType: "event",
		models.CtxCategoryIDs:  "[1,2]",
	}); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}
	if err := fs.Transition(testPhone, models.StateBrowsingEvents, map[string]string{
		models.CtxCategoryID: "2",
	}); err != nil {
		t.Fatalf("second transition failed: %v", err)
	}

	f, err := fs.Current(testPhone)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if f.PreviousState != models.StateBrowsingCategories {
		t.Errorf("expected previous state %s, got %s", models.StateBrowsingCategories, f.PreviousState)
	}
	if got := f.Ctx(models.CtxOfferingType, ""); got != "event" {
		t.Errorf("expected carried context offering_type=event, got %q", got)
	}
	if got := f.Ctx(models.CtxCategoryID, ""); got != "2" {
		t.Errorf("expected patched context category_id=2, got %q", got)
	}
}

func TestTransitionPatchWinsOnCollision(t *testing.T) {
	st := store.NewInMemoryStore()
	fs := NewFlowStore(st)

	if err := fs.Transition(testPhone, models.StateMainMenu, map[string]string{models.CtxOfferingID: "1"}); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := fs.Transition(testPhone, models.StateViewingEventDetails, map[string]string{models.CtxOfferingID: "9"}); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	f, _ := fs.Current(testPhone)
	if got := f.Ctx(models.CtxOfferingID, ""); got != "9" {
		t.Errorf("expected patch value to win, got %q", got)
	}
}

func TestExpiredFlowIsHiddenAndDeleted(t *testing.T) {
	st := store.NewInMemoryStore()
	fs := NewFlowStore(st)

	past := time.Now().Add(-time.Hour)
	if err := st.SaveFlow(models.Flow{
		PhoneNumber:       testPhone,
		CurrentState:      models.StateMainMenu,
		LastInteractionAt: past,
		ExpiresAt:         past.Add(DefaultTTL),
	}); err != nil {
		t.Fatalf("SaveFlow failed: %v", err)
	}

	f, err := fs.Current(testPhone)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if f != nil {
		t.Fatalf("expected expired flow to be hidden, got state %s", f.CurrentState)
	}

	// Lazy expiry deletes the row too.
	raw, err := st.GetFlow(testPhone)
	if err != nil {
		t.Fatalf("GetFlow failed: %v", err)
	}
	if raw != nil {
		t.Error("expected expired flow row to be deleted")
	}
}

func TestTouchSlidesWindow(t *testing.T) {
	st := store.NewInMemoryStore()
	fs := NewFlowStore(st, WithTTL(5*time.Minute))

	if err := fs.Transition(testPhone, models.StateMainMenu, nil); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	before, _ := fs.Current(testPhone)

	time.Sleep(10 * time.Millisecond)
	if err := fs.Touch(testPhone); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	after, _ := fs.Current(testPhone)
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Error("expected Touch to slide the expiry window forward")
	}
	if after.CurrentState != before.CurrentState {
		t.Error("expected Touch to preserve state")
	}
}

func TestTouchWithoutFlowIsNoop(t *testing.T) {
	st := store.NewInMemoryStore()
	fs := NewFlowStore(st)

	if err := fs.Touch(testPhone); err != nil {
		t.Fatalf("Touch on absent flow should not error: %v", err)
	}
	if f, _ := fs.Current(testPhone); f != nil {
		t.Error("Touch must not create a flow")
	}
}

func TestClearReturnsToIdle(t *testing.T) {
	st := store.NewInMemoryStore()
	fs := NewFlowStore(st)

	if err := fs.Transition(testPhone, models.StateAwaitingConfirmation, nil); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if err := fs.Clear(testPhone); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if f, _ := fs.Current(testPhone); f != nil {
		t.Error("expected no active flow after Clear")
	}
}

func TestSweepExpired(t *testing.T) {
	st := store.NewInMemoryStore()
	fs := NewFlowStore(st)

	past := time.Now().Add(-2 * time.Hour)
	for _, phone := range []string{"263771111111", "263772222222"} {
		if err := st.SaveFlow(models.Flow{
			PhoneNumber:       phone,
			CurrentState:      models.StateMainMenu,
			LastInteractionAt: past,
			ExpiresAt:         past.Add(DefaultTTL),
		}); err != nil {
			t.Fatalf("SaveFlow failed: %v", err)
		}
	}
	if err := fs.Transition(testPhone, models.StateMainMenu, nil); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	n, err := fs.SweepExpired()
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 expired flows removed, got %d", n)
	}
	if f, _ := fs.Current(testPhone); f == nil {
		t.Error("active flow should survive the sweep")
	}
}
