package models

import (
	"strings"
	"testing"
)

func validPipeline() *Pipeline {
	return &Pipeline{
		Name: "release",
		On:   Trigger{Release: []string{"published"}},
		Permissions: Permissions{
			Contents: GrantRead,
			IDToken:  GrantWrite,
		},
		Jobs: []*Job{
			{
				ID: "publish",
				Steps: []*Step{
					{ID: "checkout", Uses: "checkout"},
					{ID: "build", Run: "python -m build"},
				},
			},
		},
	}
}

func TestPipeline_Validate_Valid(t *testing.T) {
	p := validPipeline()
	if err := p.Validate(); err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
}

func TestPipeline_Validate_RequiresName(t *testing.T) {
	p := validPipeline()
	p.Name = ""
	if err := p.Validate(); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestPipeline_Validate_RequiresJobs(t *testing.T) {
	p := validPipeline()
	p.Jobs = nil
	if err := p.Validate(); err == nil {
		t.Error("expected error for missing jobs")
	}
}

func TestPipeline_Validate_DuplicateJobID(t *testing.T) {
	p := validPipeline()
	p.Jobs = append(p.Jobs, &Job{
		ID:    "publish",
		Steps: []*Step{{ID: "s", Run: "true"}},
	})
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate job id") {
		t.Errorf("expected duplicate job id error, got: %v", err)
	}
}

func TestPipeline_Validate_UnknownNeeds(t *testing.T) {
	p := validPipeline()
	p.Jobs[0].Needs = []string{"nonexistent"}
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown job") {
		t.Errorf("expected unknown job error, got: %v", err)
	}
}

func TestPipeline_Validate_CyclicNeeds(t *testing.T) {
	p := validPipeline()
	p.Jobs = []*Job{
		{ID: "a", Needs: []string{"b"}, Steps: []*Step{{ID: "s", Run: "true"}}},
		{ID: "b", Needs: []string{"a"}, Steps: []*Step{{ID: "s", Run: "true"}}},
	}
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "cyclic") {
		t.Errorf("expected cyclic dependency error, got: %v", err)
	}
}

func TestPipeline_Validate_BadGrant(t *testing.T) {
	p := validPipeline()
	p.Permissions.Contents = "admin"
	if err := p.Validate(); err == nil {
		t.Error("expected error for invalid grant")
	}
}

func TestStep_Validate_ExactlyOneOfUsesRun(t *testing.T) {
	tests := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{
			name: "uses only",
			step: Step{ID: "s", Uses: "checkout"},
		},
		{
			name: "run only",
			step: Step{ID: "s", Run: "echo hi"},
		},
		{
			name:    "both",
			step:    Step{ID: "s", Uses: "checkout", Run: "echo hi"},
			wantErr: true,
		},
		{
			name:    "neither",
			step:    Step{ID: "s"},
			wantErr: true,
		},
		{
			name:    "whitespace run counts as empty",
			step:    Step{ID: "s", Run: "   "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestStep_Validate_WithOnRunStep(t *testing.T) {
	step := Step{ID: "s", Run: "echo hi", With: map[string]any{"dist": "dist"}}
	if err := step.Validate(); err == nil {
		t.Error("expected error for with on a run step")
	}
}

func TestStep_Validate_BadTimeout(t *testing.T) {
	step := Step{ID: "s", Run: "true", Timeout: "soon"}
	if err := step.Validate(); err == nil {
		t.Error("expected error for invalid timeout")
	}
}

func TestStep_TimeoutDuration(t *testing.T) {
	step := Step{ID: "s", Run: "true", Timeout: "90s"}
	if got := step.TimeoutDuration(); got.Seconds() != 90 {
		t.Errorf("expected 90s, got %v", got)
	}
	unset := Step{ID: "s", Run: "true"}
	if got := unset.TimeoutDuration(); got != 0 {
		t.Errorf("expected zero duration, got %v", got)
	}
}

func TestTrigger_Matches(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		event   Event
		want    bool
	}{
		{
			name:    "release published matches",
			trigger: Trigger{Release: []string{"published"}},
			event:   Event{Kind: EventRelease, Action: "published"},
			want:    true,
		},
		{
			name:    "release created does not match published-only",
			trigger: Trigger{Release: []string{"published"}},
			event:   Event{Kind: EventRelease, Action: "created"},
			want:    false,
		},
		{
			name:    "tag glob matches",
			trigger: Trigger{Tags: []string{"v*"}},
			event:   Event{Kind: EventTag, Tag: "v1.2.3"},
			want:    true,
		},
		{
			name:    "tag glob rejects",
			trigger: Trigger{Tags: []string{"v*"}},
			event:   Event{Kind: EventTag, Tag: "nightly"},
			want:    false,
		},
		{
			name:    "manual allowed",
			trigger: Trigger{Manual: true},
			event:   Event{Kind: EventManual},
			want:    true,
		},
		{
			name:    "manual not allowed",
			trigger: Trigger{Release: []string{"published"}},
			event:   Event{Kind: EventManual},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trigger.Matches(&tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasCyclicNeeds(t *testing.T) {
	tests := []struct {
		name string
		jobs []*Job
		want bool
	}{
		{
			name: "no dependencies",
			jobs: []*Job{{ID: "a"}, {ID: "b"}},
			want: false,
		},
		{
			name: "linear chain",
			jobs: []*Job{{ID: "a"}, {ID: "b", Needs: []string{"a"}}, {ID: "c", Needs: []string{"b"}}},
			want: false,
		},
		{
			name: "self reference",
			jobs: []*Job{{ID: "a", Needs: []string{"a"}}},
			want: true,
		},
		{
			name: "two-node cycle",
			jobs: []*Job{{ID: "a", Needs: []string{"b"}}, {ID: "b", Needs: []string{"a"}}},
			want: true,
		},
		{
			name: "diamond is acyclic",
			jobs: []*Job{
				{ID: "a"},
				{ID: "b", Needs: []string{"a"}},
				{ID: "c", Needs: []string{"a"}},
				{ID: "d", Needs: []string{"b", "c"}},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasCyclicNeeds(tt.jobs); got != tt.want {
				t.Errorf("HasCyclicNeeds() = %v, want %v", got, tt.want)
			}
		})
	}
}
