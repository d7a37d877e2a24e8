// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"strings"
	"testing"

	"github.com/boxstep/boxstep/internal/issue"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		blueprint string
		args      []string
		wantErr   bool
		want      []string
	}{
		{
			name:      "all jobs valid",
			blueprint: twoJobs,
			want:      []string{"2 job(s) valid"},
		},
		{
			name:      "single job",
			blueprint: twoJobs,
			args:      []string{"test"},
			want:      []string{"1 job(s) valid"},
		},
		{
			name:      "warnings do not fail",
			blueprint: "jobs:\n  - name: empty\n    docker:\n      image: alpine\n",
			want:      []string{"warning:", "1 job(s) valid"},
		},
		{
			name:      "errors fail",
			blueprint: "jobs:\n  - name: bad\n    script: 'if then'\n    docker:\n      memory: lots\n",
			wantErr:   true,
			want:      []string{"error:", "job 'bad'"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := writeBlueprint(t, tt.blueprint)
			app, sel, stdout, _ := testApp(t, &scriptEngine{})

			err := execute(t, app, append([]string{"validate", "-w", ws}, tt.args...)...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && classifyError(err) != issue.BlueprintParseErrorId {
				t.Errorf("validate error = %v, want blueprint issue", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(stdout.String(), want) {
					t.Errorf("output %q missing %q", stdout.String(), want)
				}
			}
			if len(sel.preferred) != 0 {
				t.Error("validate must not touch the container engine")
			}
		})
	}
}

func TestValidate_MissingBlueprint(t *testing.T) {
	app, _, _, _ := testApp(t, &scriptEngine{})
	err := execute(t, app, "validate", "-w", t.TempDir())
	if classifyError(err) != issue.BlueprintNotFoundId {
		t.Errorf("validate error = %v, want blueprint not found", err)
	}
}
