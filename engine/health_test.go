package engine

import (
	"testing"

	"github.com/tapmix/tapmix/tap"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		prev tap.Snapshot
		cur  tap.Snapshot
		want Health
	}{
		{
			name: "never any callbacks",
			prev: tap.Snapshot{},
			cur:  tap.Snapshot{},
			want: HealthDead,
		},
		{
			name: "callbacks flat",
			prev: tap.Snapshot{Callbacks: 100, OutputFrames: 1000},
			cur:  tap.Snapshot{Callbacks: 100, OutputFrames: 1000},
			want: HealthStalled,
		},
		{
			name: "healthy flow",
			prev: tap.Snapshot{Callbacks: 100, OutputFrames: 1000, InputHadData: 90},
			cur:  tap.Snapshot{Callbacks: 200, OutputFrames: 2000, InputHadData: 180},
			want: HealthOK,
		},
		{
			name: "callbacks advance but output flat with empty input",
			prev: tap.Snapshot{Callbacks: 100, OutputFrames: 1000, EmptyInput: 10},
			cur:  tap.Snapshot{Callbacks: 200, OutputFrames: 1000, EmptyInput: 105},
			want: HealthBroken,
		},
		{
			name: "output flat but input mostly present",
			prev: tap.Snapshot{Callbacks: 100, OutputFrames: 1000, EmptyInput: 10},
			cur:  tap.Snapshot{Callbacks: 200, OutputFrames: 1000, EmptyInput: 40},
			want: HealthOK,
		},
		{
			name: "empty input dominant but output still advancing",
			prev: tap.Snapshot{Callbacks: 100, OutputFrames: 1000, EmptyInput: 10},
			cur:  tap.Snapshot{Callbacks: 200, OutputFrames: 1500, EmptyInput: 110},
			want: HealthOK,
		},
		{
			name: "exactly at the empty-input share boundary",
			prev: tap.Snapshot{Callbacks: 0, OutputFrames: 0, EmptyInput: 0},
			cur:  tap.Snapshot{Callbacks: 100, OutputFrames: 0, EmptyInput: 80},
			want: HealthBroken,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.prev, tt.cur); got != tt.want {
				t.Fatalf("classify() = %v, want %v", got, tt.want)
			}
		})
	}
}
