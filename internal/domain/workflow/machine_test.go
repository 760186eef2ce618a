package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, false},
		{StateInProgress, false},
		{StateAwaitingApproverAssignment, false},
		{StateApproved, true},
		{StateRejected, true},
		{StateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"pending", StatePending, true},
		{"cancelled", StateCancelled, true},
		{"upper case", State("PENDING"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	if got := StateAwaitingApproverAssignment.String(); got != "awaiting_approver_assignment" {
		t.Errorf("State.String() = %v, want %v", got, "awaiting_approver_assignment")
	}
}

func TestBuilder_PanicsOnInvalidState(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for invalid state")
		}
	}()
	NewBuilder().Configure(State("bogus"))
}

func TestStateMachine_PermitIf(t *testing.T) {
	allow := false
	builder := NewBuilder()
	builder.Configure(StatePending).
		PermitIf(TriggerMaterialize, StateInProgress, func(ctx context.Context) bool { return allow })

	sm := builder.Build(StatePending)
	ctx := context.Background()

	if err := sm.Fire(ctx, TriggerMaterialize); !errors.Is(err, ErrGuardFailed) {
		t.Fatalf("Fire() error = %v, want ErrGuardFailed", err)
	}
	if sm.State() != StatePending {
		t.Errorf("state changed after failed guard: %v", sm.State())
	}

	allow = true
	if err := sm.Fire(ctx, TriggerMaterialize); err != nil {
		t.Fatalf("Fire() unexpected error: %v", err)
	}
	if sm.State() != StateInProgress {
		t.Errorf("State() = %v, want %v", sm.State(), StateInProgress)
	}
}

func TestStateMachine_BuildIsolation(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).Permit(TriggerCancel, StateCancelled)

	first := builder.Build(StatePending)
	builder.Configure(StatePending).Permit(TriggerBlock, StateAwaitingApproverAssignment)
	second := builder.Build(StatePending)

	if first.CanFire(TriggerBlock) {
		t.Error("machine built earlier picked up later configuration")
	}
	if !second.CanFire(TriggerBlock) {
		t.Error("machine built later is missing configuration")
	}
}

func TestInstanceStateMachine_ApprovalPath(t *testing.T) {
	ctx := context.Background()
	sm := BuildInstanceStateMachine(StatePending)

	steps := []struct {
		trigger Trigger
		want    State
	}{
		{TriggerMaterialize, StateInProgress},
		{TriggerAdvance, StateInProgress},
		{TriggerDelegate, StateInProgress},
		{TriggerEscalate, StateInProgress},
		{TriggerComplete, StateApproved},
	}

	for _, step := range steps {
		if err := sm.Fire(ctx, step.trigger); err != nil {
			t.Fatalf("Fire(%s) error: %v", step.trigger, err)
		}
		if sm.State() != step.want {
			t.Fatalf("after %s state = %v, want %v", step.trigger, sm.State(), step.want)
		}
	}

	if triggers := sm.PermittedTriggers(); len(triggers) != 0 {
		t.Errorf("terminal state permits %v", triggers)
	}
}

func TestInstanceStateMachine_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		trigger Trigger
		want    State
		wantErr bool
	}{
		{"pending blocks", StatePending, TriggerBlock, StateAwaitingApproverAssignment, false},
		{"pending cancels", StatePending, TriggerCancel, StateCancelled, false},
		{"pending cannot complete", StatePending, TriggerComplete, "", true},
		{"in progress rejects", StateInProgress, TriggerReject, StateRejected, false},
		{"in progress blocks", StateInProgress, TriggerBlock, StateAwaitingApproverAssignment, false},
		{"awaiting materializes", StateAwaitingApproverAssignment, TriggerMaterialize, StateInProgress, false},
		{"awaiting blocks again", StateAwaitingApproverAssignment, TriggerBlock, StateAwaitingApproverAssignment, false},
		{"awaiting cannot approve", StateAwaitingApproverAssignment, TriggerComplete, "", true},
		{"approved is final", StateApproved, TriggerCancel, "", true},
		{"rejected is final", StateRejected, TriggerMaterialize, "", true},
		{"cancelled is final", StateCancelled, TriggerCancel, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := BuildInstanceStateMachine(tt.from)
			got, err := sm.Target(context.Background(), tt.trigger)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("Target() error = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Target() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Target() = %v, want %v", got, tt.want)
			}
			if sm.State() != tt.from {
				t.Errorf("Target() mutated state to %v", sm.State())
			}
		})
	}
}

func TestInstanceStateMachine_PermittedTriggersSorted(t *testing.T) {
	sm := BuildInstanceStateMachine(StatePending)
	got := sm.PermittedTriggers()
	want := []Trigger{TriggerBlock, TriggerCancel, TriggerMaterialize}

	if len(got) != len(want) {
		t.Fatalf("PermittedTriggers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PermittedTriggers()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
