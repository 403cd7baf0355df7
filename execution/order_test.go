package execution

import "testing"

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  State
		to    State
		legal bool
	}{
		{"place", StateIdle, StatePlacing, true},
		{"ack", StatePlacing, StateMakerPlaced, true},
		{"reject", StatePlacing, StateError, true},
		{"full fill", StateMakerPlaced, StateFilled, true},
		{"partial fill", StateMakerPlaced, StatePartialFilled, true},
		{"ttl replace", StateMakerPlaced, StateReplacing, true},
		{"risk flatten", StateMakerPlaced, StateFlattening, true},
		{"remainder filled", StatePartialFilled, StateFilled, true},
		{"remainder reposted", StatePartialFilled, StateMakerPlaced, true},
		{"replace ack", StateReplacing, StateMakerPlaced, true},
		{"replace fail", StateReplacing, StateError, true},
		{"flatten done", StateFlattening, StateCooldown, true},
		{"cooldown over", StateCooldown, StateIdle, true},
		{"error recovered", StateError, StateIdle, true},
		{"same state idempotent", StateFilled, StateFilled, true},

		{"idle to filled", StateIdle, StateFilled, false},
		{"filled is terminal", StateFilled, StateMakerPlaced, false},
		{"cancelled is terminal", StateCancelled, StatePlacing, false},
		{"cooldown cannot fill", StateCooldown, StateFilled, false},
		{"idle cannot replace", StateIdle, StateReplacing, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.legal && err != nil {
				t.Errorf("legal transition rejected: %v", err)
			}
			if !tt.legal && err == nil {
				t.Errorf("illegal transition %s -> %s accepted", tt.from, tt.to)
			}
		})
	}
}

func TestIsLiveAndTerminal(t *testing.T) {
	if !IsLive(StateMakerPlaced) || !IsLive(StatePartialFilled) {
		t.Fatal("resting states must be live")
	}
	if IsLive(StateFilled) || IsLive(StateCooldown) {
		t.Fatal("terminal/cooldown states must not be live")
	}
	if !IsTerminal(StateFilled) || !IsTerminal(StateCancelled) {
		t.Fatal("filled/cancelled must be terminal")
	}
}

func TestManagedOrder_Remaining(t *testing.T) {
	o := ManagedOrder{OriginalSize: 10, FilledSize: 4}
	if got := o.Remaining(); got != 6 {
		t.Fatalf("remaining = %v, want 6", got)
	}
	o.FilledSize = 12
	if got := o.Remaining(); got != 0 {
		t.Fatalf("remaining = %v, want clamp to 0", got)
	}
}
