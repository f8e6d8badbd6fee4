package stt

import "testing"

func TestProbeGPU(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		device bool
		want   bool
	}{
		{"device present", nil, true, true},
		{"no device", nil, false, false},
		{"hidden by env", map[string]string{"CUDA_VISIBLE_DEVICES": "-1"}, true, false},
		{"empty env hides", map[string]string{"CUDA_VISIBLE_DEVICES": ""}, true, false},
		{"env selects gpu", map[string]string{"CUDA_VISIBLE_DEVICES": "0"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				v, ok := tt.env[k]
				return v, ok
			}
			exists := func(string) bool { return tt.device }
			if got := probeGPU(lookup, exists); got != tt.want {
				t.Errorf("probeGPU = %v, want %v", got, tt.want)
			}
		})
	}
}
