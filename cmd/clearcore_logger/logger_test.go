package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFlatten(t *testing.T) {
	status := map[string]interface{}{
		"position":     1.5,
		"is_powered":   true,
		"is_moving":    false,
		"current_rpm":  30.0,
		"config":       map[string]interface{}{"motor_id": 3.0},
		"last_reports": []interface{}{"Motor 3 is in position"},
	}
	fields := make(map[string]interface{})
	flatten(fields, status, "")
	want := map[string]interface{}{
		"position":        1.5,
		"is_powered":      true,
		"is_moving":       false,
		"current_rpm":     30.0,
		"config.motor_id": 3.0,
		"last_reports.0":  "Motor 3 is in position",
	}
	if diff := cmp.Diff(fields, want); diff != "" {
		t.Errorf("flatten: (-got +want)\n%s", diff)
	}
}
